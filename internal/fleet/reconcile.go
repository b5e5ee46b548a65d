// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package fleet

import (
	"context"
	"fmt"

	"github.com/toeirei/patchfleet/internal/db"
	"github.com/toeirei/patchfleet/internal/failure"
	"github.com/toeirei/patchfleet/internal/logging"
	"github.com/toeirei/patchfleet/internal/model"
	"github.com/toeirei/patchfleet/internal/parser"
)

// Report counts what one reconciliation touched.
type Report struct {
	Live           int `json:"live"`
	Packages       int `json:"packages"`
	PendingUpdates int `json:"pending_updates"`
	// Orphans counts reported updates without a matching active package.
	Orphans int `json:"orphans"`
}

// Reconciler writes inventory results to the store.
type Reconciler struct {
	Store db.Store
}

// NewReconciler returns a reconciler writing to store.
func NewReconciler(store db.Store) *Reconciler {
	return &Reconciler{Store: store}
}

// Reconcile applies an inventory run of owner in one serialized transaction.
// Connectivity follows the whole liveness answer, so a scoped run leaves
// out-of-scope hosts that answered connected. Systems that stopped answering
// are kept but disconnected. Every live host must come with installed and
// update data; a gap fails the run before any row changes.
func (r *Reconciler) Reconcile(ctx context.Context, owner string, inv *Inventory) (Report, error) {
	var rep Report
	err := r.Store.WithOwnerTx(ctx, owner, func(ctx context.Context, tx db.FleetTx) error {
		rep = Report{Live: len(inv.Live)}
		for _, host := range inv.Live {
			if _, ok := inv.Installed[host]; !ok {
				return failure.Newf(failure.KindParse, "reconcile", "no installed packages reported").OnHost(host)
			}
			if _, ok := inv.Updates[host]; !ok {
				return failure.Newf(failure.KindParse, "reconcile", "no update section reported").OnHost(host)
			}
		}
		answered := inv.Answered
		if answered == nil {
			answered = inv.Live
		}
		if err := tx.SetConnected(ctx, answered); err != nil {
			return err
		}
		for _, host := range inv.Live {
			facts := inv.OS[host]
			upd := inv.Updates[host]
			sys := model.System{
				Hostname:       host,
				Connected:      true,
				OSName:         facts.Name,
				OSVersion:      facts.Version,
				Kernel:         facts.Kernel,
				PackageManager: upd.PackageManager,
			}
			if upd.PackageManager == "" {
				// Keep the last known identifier when the agent stayed silent.
				if prev, err := tx.SystemByHostname(ctx, host); err == nil {
					sys.PackageManager = prev.PackageManager
				}
			}
			stored, err := tx.UpsertSystem(ctx, sys)
			if err != nil {
				return fmt.Errorf("upsert system %s: %w", host, err)
			}

			hr, err := reconcilePackages(ctx, tx, stored.ID, inv.Installed[host], upd.Updates)
			if err != nil {
				return fmt.Errorf("reconcile packages of %s: %w", host, err)
			}
			rep.add(hr)
		}
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	logging.With("owner", owner).Info("inventory reconciled", "live", rep.Live, "packages", rep.Packages, "pending", rep.PendingUpdates)
	return rep, nil
}

// ReconcileHost rewrites the package rows of one existing system from a
// fresh host query. The system's other attributes are untouched.
func (r *Reconciler) ReconcileHost(ctx context.Context, owner, host string, state *HostState) (Report, error) {
	var rep Report
	err := r.Store.WithOwnerTx(ctx, owner, func(ctx context.Context, tx db.FleetTx) error {
		sys, err := tx.SystemByHostname(ctx, host)
		if err != nil {
			return failure.New(failure.KindInternal, "reconcile host", err).OnHost(host)
		}
		rep, err = reconcilePackages(ctx, tx, sys.ID, state.Installed, state.Updates.Updates)
		return err
	})
	return rep, err
}

func reconcilePackages(ctx context.Context, tx db.FleetTx, systemID int64, installed []parser.InstalledPackage, updates []parser.Update) (Report, error) {
	rep := Report{}
	if err := tx.DeactivatePackages(ctx, systemID); err != nil {
		return rep, err
	}
	seen := make(map[string]struct{}, len(installed))
	for _, p := range installed {
		name := model.CanonicalPackageName(p.Name)
		if _, dup := seen[name]; dup {
			// Multilib hosts list one name per architecture; the first wins.
			continue
		}
		seen[name] = struct{}{}
		if err := tx.UpsertInstalled(ctx, systemID, name, p.Version); err != nil {
			return rep, fmt.Errorf("upsert package %s: %w", name, err)
		}
		rep.Packages++
	}
	for _, u := range updates {
		ok, err := tx.SetPendingVersion(ctx, systemID, model.CanonicalPackageName(u.Package), u.Version)
		if err != nil {
			return rep, fmt.Errorf("set pending version of %s: %w", u.Package, err)
		}
		if ok {
			rep.PendingUpdates++
		} else {
			rep.Orphans++
		}
	}
	return rep, nil
}

func (r *Report) add(o Report) {
	r.Packages += o.Packages
	r.PendingUpdates += o.PendingUpdates
	r.Orphans += o.Orphans
}
