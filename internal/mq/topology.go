// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange is an exchange name.
type Exchange string

// Queue is a queue name.
type Queue string

// RoutingKey is a routing key.
type RoutingKey string

const (
	ExchangeJobs Exchange = "patchfleet.jobs"
	ExchangeDLQ  Exchange = "patchfleet.dlq"
)

const (
	QueueJobsPending Queue = "patchfleet.jobs.pending"
	QueueJobsDead    Queue = "patchfleet.jobs.dead"
)

const (
	RoutingKeyPending RoutingKey = "pending"
	RoutingKeyDead    RoutingKey = "jobs"
)

// SetupTopology declares the exchanges and queues and binds them. It is
// idempotent.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeJobs, ExchangeDLQ} {
			if err := ch.ExchangeDeclare(string(ex), "direct", true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		queues := []struct {
			name Queue
			args amqp.Table
		}{
			{QueueJobsPending, amqp.Table{
				"x-dead-letter-exchange":    string(ExchangeDLQ),
				"x-dead-letter-routing-key": string(RoutingKeyDead),
			}},
			{QueueJobsDead, nil},
		}
		for _, q := range queues {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		bindings := []struct {
			queue Queue
			key   RoutingKey
			ex    Exchange
		}{
			{QueueJobsPending, RoutingKeyPending, ExchangeJobs},
			{QueueJobsDead, RoutingKeyDead, ExchangeDLQ},
		}
		for _, b := range bindings {
			if err := ch.QueueBind(string(b.queue), string(b.key), string(b.ex), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.ex, err)
			}
		}
		return nil
	})
}
