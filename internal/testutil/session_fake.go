// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package testutil holds test doubles for the control node connection.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/toeirei/patchfleet/internal/failure"
	"github.com/toeirei/patchfleet/internal/remote"
)

// Reply is one scripted answer to a command.
type Reply struct {
	Output string
	Err    error
}

// FakeSession answers commands from a script keyed by the exact command line.
// Each line holds a queue of replies; the last reply repeats once the queue is
// drained. Unscripted commands fail as remote command failures.
type FakeSession struct {
	mu      sync.Mutex
	replies map[string][]Reply
	ran     []string
	closed  bool
}

// NewFakeSession returns an empty scripted session.
func NewFakeSession() *FakeSession {
	return &FakeSession{replies: map[string][]Reply{}}
}

// On queues output for the command.
func (f *FakeSession) On(cmd remote.Command, output string) *FakeSession {
	return f.OnReply(cmd, Reply{Output: output})
}

// OnError queues a failure for the command.
func (f *FakeSession) OnError(cmd remote.Command, err error) *FakeSession {
	return f.OnReply(cmd, Reply{Err: err})
}

// OnReply queues r for the command.
func (f *FakeSession) OnReply(cmd remote.Command, r Reply) *FakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[cmd.Line] = append(f.replies[cmd.Line], r)
	return f
}

// Run implements remote.Session.
func (f *FakeSession) Run(ctx context.Context, cmd remote.Command) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", failure.Connection("run "+cmd.Line, err)
	}
	if f.closed {
		return "", failure.Connection("run "+cmd.Line, fmt.Errorf("session closed"))
	}
	f.ran = append(f.ran, cmd.Line)
	queue, ok := f.replies[cmd.Line]
	if !ok || len(queue) == 0 {
		return "", failure.RemoteCommand("run "+cmd.Line, fmt.Errorf("exit status 127: unscripted command"))
	}
	r := queue[0]
	if len(queue) > 1 {
		f.replies[cmd.Line] = queue[1:]
	}
	return r.Output, r.Err
}

// Close implements remote.Session.
func (f *FakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeSession) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Ran returns the command lines executed so far.
func (f *FakeSession) Ran() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ran...)
}

// Count returns how often a command line containing substr was executed.
func (f *FakeSession) Count(substr string) int {
	n := 0
	for _, l := range f.Ran() {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}
