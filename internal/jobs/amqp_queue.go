// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package jobs

import (
	"context"
	"fmt"

	"github.com/toeirei/patchfleet/internal/logging"
	"github.com/toeirei/patchfleet/internal/mq"
)

// AMQPQueue carries envelopes over RabbitMQ so dispatchers and workers can
// run in separate processes.
type AMQPQueue struct {
	conn      *mq.Connection
	publisher *mq.Publisher
}

// NewAMQPQueue connects to url and declares the job topology.
func NewAMQPQueue(ctx context.Context, url string) (*AMQPQueue, error) {
	logger := logging.With("component", "mq")
	conn, err := mq.NewConnection(url, logger)
	if err != nil {
		return nil, err
	}
	if err := mq.SetupTopology(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("setup topology: %w", err)
	}
	return &AMQPQueue{conn: conn, publisher: mq.NewPublisher(conn, logger)}, nil
}

// Publish implements Queue.
func (q *AMQPQueue) Publish(ctx context.Context, env Envelope) error {
	msg, err := mq.NewMessage(mq.MessageTypeJobPending, env.JobID, env)
	if err != nil {
		return err
	}
	return q.publisher.Publish(ctx, mq.ExchangeJobs, mq.RoutingKeyPending, msg)
}

// Consume implements Queue. The prefetch equals concurrency.
func (q *AMQPQueue) Consume(ctx context.Context, concurrency int, handler Handler) error {
	c := mq.NewConsumer(q.conn, logging.With("component", "mq"), mq.ConsumerConfig{
		Queue:    mq.QueueJobsPending,
		Prefetch: concurrency,
		Handler: func(ctx context.Context, msg *mq.Message) error {
			env, err := mq.DecodePayload[Envelope](msg)
			if err != nil {
				return fmt.Errorf("decode envelope %s: %w", msg.ID, err)
			}
			return handler(ctx, env)
		},
	})
	return c.Start(ctx)
}

// Close implements Queue.
func (q *AMQPQueue) Close() error { return q.conn.Close() }
