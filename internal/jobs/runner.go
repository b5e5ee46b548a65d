// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/toeirei/patchfleet/internal/cve"
	"github.com/toeirei/patchfleet/internal/db"
	"github.com/toeirei/patchfleet/internal/failure"
	"github.com/toeirei/patchfleet/internal/fleet"
	"github.com/toeirei/patchfleet/internal/i18n"
	"github.com/toeirei/patchfleet/internal/metrics"
	"github.com/toeirei/patchfleet/internal/model"
	"github.com/toeirei/patchfleet/internal/patch"
	"github.com/toeirei/patchfleet/internal/remote"
)

// Executor performs the work of one envelope.
type Executor interface {
	Execute(ctx context.Context, env Envelope) (model.JobOutcome, error)
}

// Runner executes jobs against the control node and the store.
type Runner struct {
	Store       db.Store
	Dialer      remote.Dialer
	Credentials remote.CredentialProvider
	Collector   fleet.Collector
	Reconciler  *fleet.Reconciler
	Patcher     *patch.Executor
	Scanner     *cve.Scanner
	Metrics     *metrics.Metrics
}

// NewRunner wires a runner from its collaborators.
func NewRunner(store db.Store, dialer remote.Dialer, creds remote.CredentialProvider, feed cve.Feed, policy patch.Policy, m *metrics.Metrics) *Runner {
	patcher := patch.NewExecutor(store)
	patcher.Policy = policy
	return &Runner{
		Store:       store,
		Dialer:      dialer,
		Credentials: creds,
		Reconciler:  fleet.NewReconciler(store),
		Patcher:     patcher,
		Scanner:     cve.NewScanner(store, feed),
		Metrics:     m,
	}
}

// Execute implements Executor.
func (r *Runner) Execute(ctx context.Context, env Envelope) (model.JobOutcome, error) {
	req := env.Request
	switch req.Kind {
	case KindInventory:
		return r.withSession(ctx, req.Owner, func(sess remote.Session) (model.JobOutcome, error) {
			inv, err := r.Collector.Collect(ctx, sess, req.Hosts...)
			if err != nil {
				return model.JobOutcome{}, err
			}
			rep, err := r.Reconciler.Reconcile(ctx, req.Owner, inv)
			if err != nil {
				return model.JobOutcome{}, err
			}
			return outcome(rep, "job.success.inventory", rep.Live, rep.Packages, rep.PendingUpdates), nil
		})

	case KindUpdatePackage:
		return r.withSession(ctx, req.Owner, func(sess remote.Session) (model.JobOutcome, error) {
			res, err := r.Patcher.UpdatePackage(ctx, sess, req.Owner, req.PackageID)
			if err != nil {
				return detailOnly(res), err
			}
			return outcome(res, "job.success.update_package", res.Updated[0], res.Host), nil
		})

	case KindUpdateHost:
		return r.withSession(ctx, req.Owner, func(sess remote.Session) (model.JobOutcome, error) {
			res, err := r.Patcher.UpdateHost(ctx, sess, req.Owner, req.SystemID)
			if err != nil {
				return detailOnly(res), err
			}
			if len(res.Updated) == 0 {
				return outcome(res, "job.success.update_host_none", res.Host), nil
			}
			return outcome(res, "job.success.update_host", len(res.Updated), res.Host), nil
		})

	case KindScanCVE:
		rep, err := r.Scanner.Run(ctx, req.Owner, req.SystemID)
		if err != nil {
			return model.JobOutcome{}, err
		}
		r.Metrics.FeedErrors(rep.FeedErrors)
		return outcome(rep, "job.success.scan_cve", rep.Systems, rep.CVEs, rep.FeedErrors), nil
	}
	return model.JobOutcome{}, failure.Newf(failure.KindInternal, "execute job", "unknown job kind %q", req.Kind)
}

func (r *Runner) withSession(ctx context.Context, owner string, fn func(remote.Session) (model.JobOutcome, error)) (model.JobOutcome, error) {
	target, err := r.Credentials.Target(owner)
	if err != nil {
		return model.JobOutcome{}, failure.New(failure.KindConnection, "resolve control node", err)
	}
	sess, err := r.Dialer.Dial(ctx, target)
	if err != nil {
		return model.JobOutcome{}, err
	}
	defer func() { _ = sess.Close() }()
	return fn(&countingSession{Session: sess, metrics: r.Metrics})
}

// countingSession records every command in the metrics.
type countingSession struct {
	remote.Session
	metrics *metrics.Metrics
}

func (s *countingSession) Run(ctx context.Context, cmd remote.Command) (string, error) {
	out, err := s.Session.Run(ctx, cmd)
	s.metrics.RemoteCommand(err == nil)
	return out, err
}

func outcome(detail any, messageID string, args ...any) model.JobOutcome {
	return model.JobOutcome{Message: i18n.T(messageID, args...), Detail: encodeDetail(detail)}
}

// detailOnly keeps partial results of a failed update in the outcome.
func detailOnly(res *patch.Result) model.JobOutcome {
	if res == nil {
		return model.JobOutcome{}
	}
	return model.JobOutcome{Detail: encodeDetail(res)}
}

func encodeDetail(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
