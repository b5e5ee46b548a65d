// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package state keeps transient secrets, such as the passphrases of control
// node keys, for the lifetime of one process.
package state

import "sync"

// PassphraseCache maps owners to the passphrase unlocking their control node
// key. Values are byte slices so they can be zeroed once no longer needed.
type PassphraseCache struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewPassphraseCache returns an empty cache.
func NewPassphraseCache() *PassphraseCache {
	return &PassphraseCache{values: make(map[string][]byte)}
}

// Set stores a copy of pass for owner. A nil pass removes the entry.
func (c *PassphraseCache) Set(owner string, pass []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wipe(c.values[owner])
	if pass == nil {
		delete(c.values, owner)
		return
	}
	c.values[owner] = append([]byte(nil), pass...)
}

// Get returns a copy of the passphrase of owner, or nil. The caller owns the
// copy and may zero it.
func (c *PassphraseCache) Get(owner string) []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[owner]
	if !ok {
		return nil
	}
	return append([]byte(nil), v...)
}

// Clear zeroes and drops every stored passphrase.
func (c *PassphraseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for owner, v := range c.values {
		wipe(v)
		delete(c.values, owner)
	}
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
