// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
)

// GetKnownHostKey returns the pinned key for hostname, or "" when none is pinned.
func (s *BunStore) GetKnownHostKey(ctx context.Context, hostname string) (string, error) {
	var kh KnownHostModel
	err := s.bun.NewSelect().Model(&kh).Where("hostname = ?", hostname).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return kh.Key, nil
}

// AddKnownHostKey pins key for hostname. Pinning a host twice returns ErrDuplicate.
func (s *BunStore) AddKnownHostKey(ctx context.Context, hostname, key string) error {
	_, err := s.bun.NewInsert().Model(&KnownHostModel{Hostname: hostname, Key: key}).Exec(ctx)
	return MapDBError(err)
}

// DeleteKnownHostKey forgets the pinned key for hostname.
func (s *BunStore) DeleteKnownHostKey(ctx context.Context, hostname string) error {
	_, err := s.bun.NewDelete().Model((*KnownHostModel)(nil)).Where("hostname = ?", hostname).Exec(ctx)
	return err
}
