// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"fmt"
	"time"

	"github.com/toeirei/patchfleet/internal/model"
)

// SnapshotSchemaVersion is bumped whenever FleetSnapshot changes shape.
const SnapshotSchemaVersion = 1

// ExportFleet collects every system of the owner with its packages and CVEs.
func (s *BunStore) ExportFleet(ctx context.Context, owner string) (*model.FleetSnapshot, error) {
	systems, err := s.ListSystems(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list systems: %w", err)
	}
	snap := &model.FleetSnapshot{
		SchemaVersion: SnapshotSchemaVersion,
		Owner:         owner,
		ExportedAt:    time.Now().UTC(),
		Systems:       make([]model.SystemSnapshot, 0, len(systems)),
	}
	for _, sys := range systems {
		pkgs, err := s.ListPackages(ctx, sys.ID, false)
		if err != nil {
			return nil, fmt.Errorf("list packages of %s: %w", sys.Hostname, err)
		}
		cves, err := s.ListCVEs(ctx, sys.ID)
		if err != nil {
			return nil, fmt.Errorf("list cves of %s: %w", sys.Hostname, err)
		}
		snap.Systems = append(snap.Systems, model.SystemSnapshot{System: sys, Packages: pkgs, CVEs: cves})
	}
	return snap, nil
}
