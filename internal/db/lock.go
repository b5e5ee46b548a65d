// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/uptrace/bun"
)

// ownerLocks is a keyed mutex serializing fleet writes per owner inside one
// process. Entries are dropped once nobody holds or waits for them.
type ownerLocks struct {
	mu    sync.Mutex
	locks map[string]*ownerLock
}

type ownerLock struct {
	mu   sync.Mutex
	refs int
}

func newOwnerLocks() *ownerLocks {
	return &ownerLocks{locks: make(map[string]*ownerLock)}
}

// lock blocks until owner is free and returns the matching unlock.
func (l *ownerLocks) lock(owner string) func() {
	l.mu.Lock()
	ol, ok := l.locks[owner]
	if !ok {
		ol = &ownerLock{}
		l.locks[owner] = ol
	}
	ol.refs++
	l.mu.Unlock()

	ol.mu.Lock()
	return func() {
		ol.mu.Unlock()
		l.mu.Lock()
		ol.refs--
		if ol.refs == 0 {
			delete(l.locks, owner)
		}
		l.mu.Unlock()
	}
}

const mysqlLockTimeoutSeconds = 60

func advisoryKey(owner string) string {
	return "patchfleet:" + owner
}

// acquireAdvisoryLock takes the cross-process owner lock inside tx. The
// PostgreSQL lock is released with the transaction; the MySQL lock is session
// scoped and must be released with releaseAdvisoryLock before commit.
func acquireAdvisoryLock(ctx context.Context, tx bun.Tx, dbType, owner string) error {
	switch dbType {
	case "postgres":
		if _, err := ExecRaw(ctx, tx, "SELECT pg_advisory_xact_lock(hashtext(?))", advisoryKey(owner)); err != nil {
			return fmt.Errorf("advisory lock for owner %s: %w", owner, err)
		}
	case "mysql":
		var got int
		if err := QueryRawInto(ctx, tx, &got, "SELECT GET_LOCK(?, ?)", advisoryKey(owner), mysqlLockTimeoutSeconds); err != nil {
			return fmt.Errorf("advisory lock for owner %s: %w", owner, err)
		}
		if got != 1 {
			return fmt.Errorf("advisory lock for owner %s: timed out", owner)
		}
	}
	return nil
}

func releaseAdvisoryLock(ctx context.Context, tx bun.Tx, dbType, owner string) {
	if dbType != "mysql" {
		return
	}
	if _, err := ExecRaw(ctx, tx, "DO RELEASE_LOCK(?)", advisoryKey(owner)); err != nil {
		dbLogf("db: release advisory lock for %s failed: %v", owner, err)
	}
}
