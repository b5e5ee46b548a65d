// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clog "github.com/charmbracelet/log"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType tags the payload of a message.
type MessageType string

// MessageTypeJobPending carries a job envelope.
const MessageTypeJobPending MessageType = "job.pending"

// Message is the JSON body of every published message.
type Message struct {
	ID            string          `json:"id"`
	Type          MessageType     `json:"type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewMessage wraps payload into a message.
func NewMessage(t MessageType, correlationID string, payload any) (*Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		ID:            uuid.NewString(),
		Type:          t,
		CorrelationID: correlationID,
		Payload:       body,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// Publisher publishes persistent JSON messages.
type Publisher struct {
	conn   *Connection
	logger *clog.Logger
}

// NewPublisher returns a publisher on conn.
func NewPublisher(conn *Connection, logger *clog.Logger) *Publisher {
	return &Publisher{conn: conn, logger: logger}
}

// Publish sends msg to exchange with routingKey.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx, string(exchange), string(routingKey), false, false, amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     msg.ID,
			CorrelationId: msg.CorrelationID,
			Timestamp:     msg.Timestamp,
			Type:          string(msg.Type),
			Body:          body,
		})
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}
		p.logger.Debug("published message", "exchange", exchange, "routing_key", routingKey, "message_id", msg.ID, "correlation_id", msg.CorrelationID)
		return nil
	})
}
