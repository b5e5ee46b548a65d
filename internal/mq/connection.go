// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package mq carries job envelopes over RabbitMQ. The connection reconnects
// on its own; consumers restart after every reconnect.
package mq // import "github.com/toeirei/patchfleet/internal/mq"

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	clog "github.com/charmbracelet/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Connection wraps an AMQP connection and its channel.
type Connection struct {
	url    string
	logger *clog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel

	closed   bool
	closedCh chan struct{}

	reconnectCh chan struct{}

	// newBackOff is overridden in tests.
	newBackOff func() backoff.BackOff
}

// dialAMQP is overridden in tests.
var dialAMQP = amqp.Dial

// NewConnection dials url and starts watching the connection.
func NewConnection(url string, logger *clog.Logger) (*Connection, error) {
	c := &Connection{
		url:         url,
		logger:      logger,
		closedCh:    make(chan struct{}),
		reconnectCh: make(chan struct{}, 1),
		newBackOff:  defaultBackOff,
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	go c.watchConnection()
	return c, nil
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	return bo
}

func (c *Connection) connect() error {
	conn, err := dialAMQP(c.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	c.logger.Info("connected to RabbitMQ")
	return nil
}

func (c *Connection) watchConnection() {
	for {
		c.mu.RLock()
		if c.closed {
			c.mu.RUnlock()
			return
		}
		conn := c.conn
		c.mu.RUnlock()

		notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-c.closedCh:
			return
		case err := <-notifyClose:
			if err != nil {
				c.logger.Warn("connection lost", "err", err)
			}
			if !c.reconnect() {
				return
			}
		}
	}
}

var errClosed = errors.New("mq: connection closed")

// reconnect retries with exponential backoff until it succeeds or the
// connection is closed.
func (c *Connection) reconnect() bool {
	err := backoff.RetryNotify(func() error {
		c.mu.RLock()
		closed := c.closed
		c.mu.RUnlock()
		if closed {
			return backoff.Permanent(errClosed)
		}
		return c.connect()
	}, c.newBackOff(), func(err error, d time.Duration) {
		c.logger.Warn("reconnect failed", "err", err, "retry_in", d)
	})
	if err != nil {
		return false
	}
	c.logger.Info("reconnected to RabbitMQ")
	select {
	case c.reconnectCh <- struct{}{}:
	default:
	}
	return true
}

// Channel returns the current channel.
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// ReconnectNotify signals after every successful reconnect.
func (c *Connection) ReconnectNotify() <-chan struct{} {
	return c.reconnectCh
}

// Closed is closed once Close was called.
func (c *Connection) Closed() <-chan struct{} {
	return c.closedCh
}

// WithChannel runs fn with the current channel.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch := c.Channel()
	if ch == nil || ch.IsClosed() {
		return errors.New("mq: no channel available")
	}
	return fn(ch)
}

// IsConnected reports whether the connection is open.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// Close closes the channel and the connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closedCh)

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}
