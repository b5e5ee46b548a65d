// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	clog "github.com/charmbracelet/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one message. An error requeues the message.
type Handler func(ctx context.Context, msg *Message) error

// ConsumerConfig configures a consumer.
type ConsumerConfig struct {
	Queue   Queue
	Handler Handler
	// Prefetch is both the QoS prefetch and the number of messages handled
	// concurrently.
	Prefetch int
}

// Consumer consumes a queue with manual acknowledgements.
type Consumer struct {
	conn     *Connection
	logger   *clog.Logger
	queue    Queue
	handler  Handler
	prefetch int
}

// NewConsumer returns a consumer on conn.
func NewConsumer(conn *Connection, logger *clog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	return &Consumer{conn: conn, logger: logger, queue: cfg.Queue, handler: cfg.Handler, prefetch: prefetch}
}

// Start consumes until ctx is done, resuming after reconnects. In-flight
// handlers are waited for before it returns.
func (c *Consumer) Start(ctx context.Context) error {
	var inflight sync.WaitGroup
	defer inflight.Wait()
	sem := make(chan struct{}, c.prefetch)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		deliveries, err := c.setup()
		if err != nil {
			c.logger.Error("consume setup failed", "queue", c.queue, "err", err)
		} else {
			c.logger.Info("consumer started", "queue", c.queue, "prefetch", c.prefetch)
			c.process(ctx, deliveries, sem, &inflight)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries closed, waiting for reconnect", "queue", c.queue)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.Closed():
			return nil
		case <-c.conn.ReconnectNotify():
		}
	}
}

func (c *Consumer) setup() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, fmt.Errorf("no channel available")
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(string(c.queue), "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	return deliveries, nil
}

func (c *Consumer) process(ctx context.Context, deliveries <-chan amqp.Delivery, sem chan struct{}, inflight *sync.WaitGroup) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-deliveries:
			if !ok {
				return
			}
			sem <- struct{}{}
			inflight.Add(1)
			go func() {
				defer func() { <-sem; inflight.Done() }()
				c.handle(ctx, raw)
			}()
		}
	}
}

// acker is the part of amqp.Delivery used to settle a message.
type acker interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) {
	c.settle(ctx, raw.Body, &raw)
}

// settle decodes body, runs the handler and acknowledges. Undecodable
// messages are dead-lettered; handler errors requeue once, redeliveries that
// fail again are dead-lettered.
func (c *Consumer) settle(ctx context.Context, body []byte, d acker) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		c.logger.Error("undecodable message", "queue", c.queue, "err", err)
		_ = d.Nack(false, false)
		return
	}
	if err := c.handler(ctx, &msg); err != nil {
		redelivered := c.redeliveredOf(d)
		c.logger.Error("handler failed", "queue", c.queue, "message_id", msg.ID, "redelivered", redelivered, "err", err)
		_ = d.Nack(false, !redelivered)
		return
	}
	_ = d.Ack(false)
}

func (c *Consumer) redeliveredOf(d acker) bool {
	raw, ok := d.(*amqp.Delivery)
	return ok && raw.Redelivered
}

// DecodePayload decodes the payload of msg into T.
func DecodePayload[T any](msg *Message) (T, error) {
	var out T
	if err := json.Unmarshal(msg.Payload, &out); err != nil {
		return out, fmt.Errorf("unmarshal payload: %w", err)
	}
	return out, nil
}
