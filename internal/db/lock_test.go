// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"sync"
	"testing"
	"time"
)

func TestOwnerLocks_SerializePerOwner(t *testing.T) {
	l := newOwnerLocks()
	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.lock("alice")
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxSeen)
	}
	if len(l.locks) != 0 {
		t.Fatalf("expected lock entries to be released, got %d", len(l.locks))
	}
}

func TestOwnerLocks_IndependentOwners(t *testing.T) {
	l := newOwnerLocks()
	unlockA := l.lock("alice")
	done := make(chan struct{})
	go func() {
		unlockB := l.lock("bob")
		unlockB()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("lock for bob blocked behind alice")
	}
	unlockA()
}
