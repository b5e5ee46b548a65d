// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package mq

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/cenkalti/backoff"
	clog "github.com/charmbracelet/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeAcker struct {
	acked, nacked, requeued bool
}

func (f *fakeAcker) Ack(bool) error { f.acked = true; return nil }
func (f *fakeAcker) Nack(_, requeue bool) error {
	f.nacked, f.requeued = true, requeue
	return nil
}

type payload struct {
	JobID string `json:"job_id"`
}

func testConsumer(h Handler) *Consumer {
	return NewConsumer(&Connection{}, clog.New(io.Discard), ConsumerConfig{Queue: QueueJobsPending, Handler: h})
}

func TestSettle_AcksHandledMessage(t *testing.T) {
	var got payload
	c := testConsumer(func(ctx context.Context, msg *Message) error {
		var err error
		got, err = DecodePayload[payload](msg)
		return err
	})
	msg, err := NewMessage(MessageTypeJobPending, "job-1", payload{JobID: "job-1"})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	body, _ := json.Marshal(msg)

	ack := &fakeAcker{}
	c.settle(context.Background(), body, ack)
	if !ack.acked || ack.nacked {
		t.Fatalf("expected ack, got %+v", ack)
	}
	if got.JobID != "job-1" {
		t.Fatalf("payload not decoded: %+v", got)
	}
}

func TestSettle_HandlerErrorRequeues(t *testing.T) {
	c := testConsumer(func(context.Context, *Message) error { return errors.New("store down") })
	msg, _ := NewMessage(MessageTypeJobPending, "job-2", payload{JobID: "job-2"})
	body, _ := json.Marshal(msg)

	ack := &fakeAcker{}
	c.settle(context.Background(), body, ack)
	if !ack.nacked || !ack.requeued {
		t.Fatalf("expected requeue, got %+v", ack)
	}

	redelivered := &amqp.Delivery{Redelivered: true}
	if !c.redeliveredOf(redelivered) {
		t.Fatalf("expected redelivery to be detected")
	}
}

func TestSettle_UndecodableIsDeadLettered(t *testing.T) {
	called := false
	c := testConsumer(func(context.Context, *Message) error { called = true; return nil })
	ack := &fakeAcker{}
	c.settle(context.Background(), []byte("{not json"), ack)
	if called || !ack.nacked || ack.requeued {
		t.Fatalf("expected dead letter without handler call, got %+v called=%v", ack, called)
	}
}

func TestReconnect_StopsWhenClosed(t *testing.T) {
	c := &Connection{
		logger:      clog.New(io.Discard),
		closed:      true,
		closedCh:    make(chan struct{}),
		reconnectCh: make(chan struct{}, 1),
		newBackOff:  func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}
	if c.reconnect() {
		t.Fatalf("reconnect must give up on a closed connection")
	}
}

func TestNewConnection_DialError(t *testing.T) {
	orig := dialAMQP
	defer func() { dialAMQP = orig }()
	dialAMQP = func(string) (*amqp.Connection, error) { return nil, errors.New("connection refused") }

	if _, err := NewConnection("amqp://localhost", clog.New(io.Discard)); err == nil {
		t.Fatalf("expected dial error")
	}
}
