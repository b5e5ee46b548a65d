// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/toeirei/patchfleet/internal/logging"
)

// Handler processes one envelope. A returned error means the envelope could
// not be handled and may be delivered again.
type Handler func(ctx context.Context, env Envelope) error

// Queue carries envelopes from dispatchers to workers.
type Queue interface {
	Publish(ctx context.Context, env Envelope) error
	// Consume runs handler on up to concurrency envelopes at a time until
	// ctx is done.
	Consume(ctx context.Context, concurrency int, handler Handler) error
	Close() error
}

// ErrQueueClosed is returned when publishing on a closed queue.
var ErrQueueClosed = errors.New("jobs: queue closed")

// LocalQueue is an in-process queue for single binary mode.
type LocalQueue struct {
	ch chan Envelope

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewLocalQueue returns a queue buffering up to size envelopes.
func NewLocalQueue(size int) *LocalQueue {
	if size <= 0 {
		size = 64
	}
	return &LocalQueue{ch: make(chan Envelope, size), done: make(chan struct{})}
}

// Publish enqueues env. It blocks while the buffer is full.
func (q *LocalQueue) Publish(ctx context.Context, env Envelope) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume implements Queue.
func (q *LocalQueue) Consume(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case env := <-q.ch:
					if err := handler(ctx, env); err != nil {
						logging.With("job_id", env.JobID, "kind", env.Request.Kind).Error("job handler failed", "err", err)
					}
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close stops consumers and rejects further publishing.
func (q *LocalQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

// Len returns the number of queued envelopes.
func (q *LocalQueue) Len() int { return len(q.ch) }
