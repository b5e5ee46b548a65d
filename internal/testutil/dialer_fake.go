// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/toeirei/patchfleet/internal/remote"
)

// FakeDialer hands out a fixed session, or fails with Err.
type FakeDialer struct {
	Session *FakeSession
	Err     error

	mu    sync.Mutex
	dials int
}

// Dial implements remote.Dialer.
func (d *FakeDialer) Dial(ctx context.Context, target remote.Target) (remote.Session, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	if d.Session == nil {
		return nil, fmt.Errorf("no fake session configured for %s", target.Addr())
	}
	return d.Session, nil
}

// Dials returns how often Dial was called.
func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// StaticCredentials resolves every owner to the same target.
type StaticCredentials struct {
	Address string
	Err     error
}

// Target implements remote.CredentialProvider.
func (c StaticCredentials) Target(owner string) (remote.Target, error) {
	if c.Err != nil {
		return remote.Target{}, c.Err
	}
	addr := c.Address
	if addr == "" {
		addr = "control.test"
	}
	return remote.Target{Address: addr, Username: owner}, nil
}
