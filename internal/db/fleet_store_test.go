// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/toeirei/patchfleet/internal/model"
)

func seedSystem(t *testing.T, s *BunStore, owner, host string, pkgs map[string]string) model.System {
	t.Helper()
	var sys model.System
	err := s.WithOwnerTx(context.Background(), owner, func(ctx context.Context, tx FleetTx) error {
		var err error
		sys, err = tx.UpsertSystem(ctx, model.System{Hostname: host, Connected: true, PackageManager: "yum"})
		if err != nil {
			return err
		}
		for name, version := range pkgs {
			if err := tx.UpsertInstalled(ctx, sys.ID, name, version); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed %s: %v", host, err)
	}
	return sys
}

func TestUpsertSystem_UpdatesInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	first := seedSystem(t, s, "alice", "web-01", nil)

	err := s.WithOwnerTx(ctx, "alice", func(ctx context.Context, tx FleetTx) error {
		got, err := tx.UpsertSystem(ctx, model.System{Hostname: "web-01", Connected: true, OSName: "CentOS Linux 7 (Core)", Kernel: "Linux 3.10"})
		if err != nil {
			return err
		}
		if got.ID != first.ID {
			t.Errorf("expected same id %d, got %d", first.ID, got.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithOwnerTx: %v", err)
	}

	systems, err := s.ListSystems(ctx, "alice")
	if err != nil {
		t.Fatalf("ListSystems: %v", err)
	}
	if len(systems) != 1 || systems[0].OSName != "CentOS Linux 7 (Core)" || systems[0].Owner != "alice" {
		t.Fatalf("unexpected systems: %#v", systems)
	}

	// same hostname for another owner is a different system
	other := seedSystem(t, s, "bob", "web-01", nil)
	if other.ID == first.ID {
		t.Fatalf("systems of different owners must not share rows")
	}
	if _, err := s.GetSystem(ctx, "alice", other.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound across owners, got %v", err)
	}
}

func TestPackageLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sys := seedSystem(t, s, "alice", "web-01", map[string]string{"openssh": "7.4p1-16.el7", "bash": "4.2"})

	err := s.WithOwnerTx(ctx, "alice", func(ctx context.Context, tx FleetTx) error {
		ok, err := tx.SetPendingVersion(ctx, sys.ID, "openssh", "7.4p1-21.el7")
		if err != nil || !ok {
			t.Errorf("SetPendingVersion openssh: ok=%v err=%v", ok, err)
		}
		ok, err = tx.SetPendingVersion(ctx, sys.ID, "missing", "1")
		if err != nil || ok {
			t.Errorf("SetPendingVersion on unknown package should be a no-op: ok=%v err=%v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithOwnerTx: %v", err)
	}

	pending, err := s.PendingPackages(ctx, sys.ID)
	if err != nil {
		t.Fatalf("PendingPackages: %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "openssh" || *pending[0].NewVersion != "7.4p1-21.el7" {
		t.Fatalf("unexpected pending: %#v", pending)
	}

	// deactivate and re-report only bash
	err = s.WithOwnerTx(ctx, "alice", func(ctx context.Context, tx FleetTx) error {
		if err := tx.DeactivatePackages(ctx, sys.ID); err != nil {
			return err
		}
		return tx.UpsertInstalled(ctx, sys.ID, "bash", "4.3")
	})
	if err != nil {
		t.Fatalf("WithOwnerTx: %v", err)
	}

	all, _ := s.ListPackages(ctx, sys.ID, false)
	active, _ := s.ListPackages(ctx, sys.ID, true)
	if len(all) != 2 || len(active) != 1 || active[0].Name != "bash" || active[0].CurrentVersion != "4.3" {
		t.Fatalf("unexpected packages: all=%#v active=%#v", all, active)
	}
	pending, _ = s.PendingPackages(ctx, sys.ID)
	if len(pending) != 0 {
		t.Fatalf("inactive package must not be pending: %#v", pending)
	}

	pkg, owning, err := s.GetPackage(ctx, "alice", active[0].ID)
	if err != nil || pkg.Name != "bash" || owning.ID != sys.ID {
		t.Fatalf("GetPackage: %#v %#v %v", pkg, owning, err)
	}
	if _, _, err := s.GetPackage(ctx, "mallory", active[0].ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other owner, got %v", err)
	}
}

func TestReplaceCVEsAndSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sys := seedSystem(t, s, "alice", "web-01", map[string]string{"openssh": "7.4p1-16.el7"})
	score := 7.5

	replace := func(cves []model.CVE) {
		t.Helper()
		err := s.WithOwnerTx(ctx, "alice", func(ctx context.Context, tx FleetTx) error {
			return tx.ReplaceCVEs(ctx, sys.ID, cves, time.Now())
		})
		if err != nil {
			t.Fatalf("ReplaceCVEs: %v", err)
		}
	}

	replace([]model.CVE{
		{CVEID: "CVE-2018-15473", Description: "user enumeration", Score: &score, Severity: model.SeverityModerate, AffectedPackage: "openssh-7.4p1-16.el7"},
		{CVEID: "CVE-2017-15906", Severity: model.SeverityLow, AffectedPackage: "openssh-7.4p1-16.el7"},
	})
	cves, err := s.ListCVEs(ctx, sys.ID)
	if err != nil || len(cves) != 2 {
		t.Fatalf("ListCVEs: %#v %v", cves, err)
	}
	if cves[1].Score == nil || *cves[1].Score != 7.5 || cves[0].Score != nil {
		t.Fatalf("unexpected scores: %#v", cves)
	}

	if err := s.WithOwnerTx(ctx, "alice", func(ctx context.Context, tx FleetTx) error {
		_, err := tx.SetPendingVersion(ctx, sys.ID, "openssh", "7.4p1-21.el7")
		return err
	}); err != nil {
		t.Fatalf("SetPendingVersion: %v", err)
	}

	sum, err := s.Summary(ctx, "alice")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Systems != 1 || sum.Connected != 1 || sum.PendingUpdates != 1 || sum.CVEs != 2 || sum.CVEsBySeverity[model.SeverityLow] != 1 {
		t.Fatalf("unexpected summary: %#v", sum)
	}

	replace(nil)
	cves, _ = s.ListCVEs(ctx, sys.ID)
	if len(cves) != 0 {
		t.Fatalf("expected CVEs to be replaced by empty set, got %d", len(cves))
	}
	got, _ := s.GetSystem(ctx, "alice", sys.ID)
	if got.CVEsScannedAt == nil {
		t.Fatalf("expected cves_scanned_at to be stamped")
	}
}

func TestDeleteSystemCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sys := seedSystem(t, s, "alice", "web-01", map[string]string{"openssh": "7.4"})

	if err := s.DeleteSystem(ctx, "bob", sys.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting another owner's system, got %v", err)
	}
	if err := s.DeleteSystem(ctx, "alice", sys.ID); err != nil {
		t.Fatalf("DeleteSystem: %v", err)
	}
	pkgs, _ := s.ListPackages(ctx, sys.ID, false)
	if len(pkgs) != 0 {
		t.Fatalf("expected packages to be deleted, got %d", len(pkgs))
	}
	snap, err := s.ExportFleet(ctx, "alice")
	if err != nil || len(snap.Systems) != 0 || snap.SchemaVersion != SnapshotSchemaVersion {
		t.Fatalf("unexpected snapshot: %#v %v", snap, err)
	}
}

func TestWithOwnerTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.WithOwnerTx(ctx, "alice", func(ctx context.Context, tx FleetTx) error {
		if _, err := tx.UpsertSystem(ctx, model.System{Hostname: "web-01"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	systems, _ := s.ListSystems(ctx, "alice")
	if len(systems) != 0 {
		t.Fatalf("expected rollback, found %d systems", len(systems))
	}
}

func TestKnownHosts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if k, err := s.GetKnownHostKey(ctx, "control:22"); err != nil || k != "" {
		t.Fatalf("expected empty key, got %q %v", k, err)
	}
	if err := s.AddKnownHostKey(ctx, "control:22", "ssh-ed25519 AAAA"); err != nil {
		t.Fatalf("AddKnownHostKey: %v", err)
	}
	if err := s.AddKnownHostKey(ctx, "control:22", "ssh-ed25519 BBBB"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := s.DeleteKnownHostKey(ctx, "control:22"); err != nil {
		t.Fatalf("DeleteKnownHostKey: %v", err)
	}
	if k, _ := s.GetKnownHostKey(ctx, "control:22"); k != "" {
		t.Fatalf("expected key to be removed, got %q", k)
	}
}
