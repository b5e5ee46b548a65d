// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package cve correlates installed packages with a vulnerability feed and
// stores the findings per system.
package cve // import "github.com/toeirei/patchfleet/internal/cve"

import (
	"context"
	"fmt"

	"github.com/toeirei/patchfleet/internal/db"
	"github.com/toeirei/patchfleet/internal/model"
)

// Candidate is one package to look up in the feed.
type Candidate struct {
	PackageID int64
	Name      string
	Version   string
	// Query is the "name-version" string the feed is asked about.
	Query string
}

// SystemCandidates holds the candidates of one system.
type SystemCandidates struct {
	System     model.System
	Candidates []Candidate
}

// Supported reports whether the feed covers systems of this kind.
func Supported(kind model.PackageManagerKind) bool {
	switch kind {
	case model.PackageManagerRPM:
		return true
	case model.PackageManagerDebian, model.PackageManagerUnsupported:
		return false
	}
	return false
}

// BuildCandidates lists the supported systems of owner with their active
// packages. A systemID of 0 selects every system. Supported systems without
// active packages are included with an empty list.
func BuildCandidates(ctx context.Context, store db.Store, owner string, systemID int64) ([]SystemCandidates, error) {
	var systems []model.System
	if systemID != 0 {
		sys, err := store.GetSystem(ctx, owner, systemID)
		if err != nil {
			return nil, fmt.Errorf("get system %d: %w", systemID, err)
		}
		systems = []model.System{*sys}
	} else {
		var err error
		if systems, err = store.ListSystems(ctx, owner); err != nil {
			return nil, fmt.Errorf("list systems: %w", err)
		}
	}

	out := make([]SystemCandidates, 0, len(systems))
	for _, sys := range systems {
		if !Supported(sys.Kind()) {
			continue
		}
		pkgs, err := store.ListPackages(ctx, sys.ID, true)
		if err != nil {
			return nil, fmt.Errorf("list packages of %s: %w", sys.Hostname, err)
		}
		sc := SystemCandidates{System: sys, Candidates: make([]Candidate, 0, len(pkgs))}
		for _, p := range pkgs {
			sc.Candidates = append(sc.Candidates, Candidate{
				PackageID: p.ID,
				Name:      model.CanonicalPackageName(p.Name),
				Version:   p.CurrentVersion,
				Query:     p.Candidate(),
			})
		}
		out = append(out, sc)
	}
	return out, nil
}
