// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package patch issues package updates on managed hosts and verifies them
// against freshly queried host state.
package patch // import "github.com/toeirei/patchfleet/internal/patch"

import (
	"context"
	"errors"
	"strings"

	"github.com/toeirei/patchfleet/internal/db"
	"github.com/toeirei/patchfleet/internal/failure"
	"github.com/toeirei/patchfleet/internal/fleet"
	"github.com/toeirei/patchfleet/internal/logging"
	"github.com/toeirei/patchfleet/internal/model"
	"github.com/toeirei/patchfleet/internal/remote"
)

// Result describes what an update run did.
type Result struct {
	Host    string   `json:"host"`
	Updated []string `json:"updated,omitempty"`
	Failed  []string `json:"failed,omitempty"`
	// Remaining lists packages still outdated after the update.
	Remaining []string `json:"remaining,omitempty"`
}

// Executor runs update jobs.
type Executor struct {
	Store      db.Store
	Reconciler *fleet.Reconciler
	Collector  fleet.Collector
	Policy     Policy
}

// NewExecutor returns an executor using the abort policy.
func NewExecutor(store db.Store) *Executor {
	return &Executor{Store: store, Reconciler: fleet.NewReconciler(store), Policy: PolicyAbort}
}

// UpdatePackage updates one package and verifies that the host no longer
// reports it as outdated. The host is reconciled from the fresh query on
// success and on verification failure.
func (e *Executor) UpdatePackage(ctx context.Context, sess remote.Session, owner string, packageID int64) (*Result, error) {
	pkg, sys, err := e.Store.GetPackage(ctx, owner, packageID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, failure.Newf(failure.KindInternal, "resolve package", "package %d not found", packageID)
		}
		return nil, err
	}
	if !pkg.Active {
		return nil, failure.Newf(failure.KindInternal, "resolve package", "package %s is no longer installed", pkg.Name).OnHost(sys.Hostname)
	}
	host := sys.Hostname
	log := logging.With("owner", owner, "host", host, "package", pkg.Name)

	if err := e.requireLive(ctx, sess, host); err != nil {
		return nil, err
	}
	cmd, err := remote.UpdatePackageCommand(pkg.Name, host)
	if err != nil {
		return nil, failure.New(failure.KindInternal, "build update command", err).OnHost(host)
	}
	log.Info("updating package")
	if _, err := sess.Run(ctx, cmd); err != nil {
		return nil, onHost(err, host)
	}

	state, err := e.refresh(ctx, sess, owner, host)
	if err != nil {
		return nil, err
	}
	res := &Result{Host: host, Remaining: outdated(state)}
	for _, name := range res.Remaining {
		if name == pkg.Name {
			return res, failure.Newf(failure.KindVerification, "verify update", "%s is still outdated after the update", pkg.Name).OnHost(host)
		}
	}
	res.Updated = []string{pkg.Name}
	log.Info("package updated")
	return res, nil
}

// UpdateHost updates every pending package of a system one after another.
func (e *Executor) UpdateHost(ctx context.Context, sess remote.Session, owner string, systemID int64) (*Result, error) {
	sys, err := e.Store.GetSystem(ctx, owner, systemID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, failure.Newf(failure.KindInternal, "resolve system", "system %d not found", systemID)
		}
		return nil, err
	}
	host := sys.Hostname
	log := logging.With("owner", owner, "host", host)

	if err := e.requireLive(ctx, sess, host); err != nil {
		return nil, err
	}
	pending, err := e.Store.PendingPackages(ctx, sys.ID)
	if err != nil {
		return nil, err
	}
	res := &Result{Host: host}
	if len(pending) == 0 {
		log.Info("no pending updates")
		return res, nil
	}

	for _, p := range pending {
		if err := e.updateOne(ctx, sess, p, host); err != nil {
			if e.policy() == PolicyAbort {
				return res, err
			}
			log.Warn("package update failed, continuing", "package", p.Name, "err", err)
			res.Failed = append(res.Failed, p.Name)
			continue
		}
		res.Updated = append(res.Updated, p.Name)
	}

	state, err := e.refresh(ctx, sess, owner, host)
	if err != nil {
		return res, err
	}
	res.Remaining = outdated(state)
	if len(res.Failed) > 0 {
		return res, failure.Newf(failure.KindRemoteCommand, "update host", "update failed for %s", strings.Join(res.Failed, ", ")).OnHost(host)
	}
	if len(res.Remaining) > 0 {
		return res, failure.Newf(failure.KindVerification, "verify update", "still outdated: %s", strings.Join(res.Remaining, ", ")).OnHost(host)
	}
	log.Info("host updated", "packages", len(res.Updated))
	return res, nil
}

func (e *Executor) updateOne(ctx context.Context, sess remote.Session, p model.Package, host string) error {
	cmd, err := remote.UpdatePackageCommand(p.Name, host)
	if err != nil {
		return failure.New(failure.KindInternal, "build update command", err).OnHost(host)
	}
	if _, err := sess.Run(ctx, cmd); err != nil {
		return failure.New(failure.KindOf(err), "update "+p.Name, err).OnHost(host)
	}
	return nil
}

func (e *Executor) policy() Policy {
	if e.Policy == "" {
		return PolicyAbort
	}
	return e.Policy
}

func (e *Executor) requireLive(ctx context.Context, sess remote.Session, host string) error {
	live, err := fleet.IsLive(ctx, sess, host)
	if err != nil {
		return onHost(err, host)
	}
	if !live {
		return failure.Newf(failure.KindTargetNotLive, "check liveness", "host does not answer the management agent").OnHost(host)
	}
	return nil
}

func (e *Executor) refresh(ctx context.Context, sess remote.Session, owner, host string) (*fleet.HostState, error) {
	state, err := e.Collector.QueryHost(ctx, sess, host)
	if err != nil {
		return nil, onHost(err, host)
	}
	if _, err := e.Reconciler.ReconcileHost(ctx, owner, host, state); err != nil {
		return nil, err
	}
	return state, nil
}

func outdated(state *fleet.HostState) []string {
	names := make([]string, 0, len(state.Updates.Updates))
	for _, u := range state.Updates.Updates {
		names = append(names, model.CanonicalPackageName(u.Package))
	}
	return names
}

// onHost scopes a classified error to host unless it already names one.
func onHost(err error, host string) error {
	if fe, ok := err.(*failure.Error); ok && fe.Host == "" {
		return fe.OnHost(host)
	}
	return err
}
