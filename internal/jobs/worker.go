// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/toeirei/patchfleet/internal/db"
	"github.com/toeirei/patchfleet/internal/failure"
	"github.com/toeirei/patchfleet/internal/i18n"
	"github.com/toeirei/patchfleet/internal/logging"
	"github.com/toeirei/patchfleet/internal/metrics"
	"github.com/toeirei/patchfleet/internal/model"
)

// Worker consumes envelopes and records their results.
type Worker struct {
	Queue       Queue
	Executor    Executor
	Store       db.Store
	Concurrency int
	Metrics     *metrics.Metrics
}

// NewWorker returns a worker running up to concurrency jobs at once.
func NewWorker(queue Queue, exec Executor, store db.Store, concurrency int, m *metrics.Metrics) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{Queue: queue, Executor: exec, Store: store, Concurrency: concurrency, Metrics: m}
}

// Run consumes until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	logging.Infof("worker started with concurrency %d", w.Concurrency)
	err := w.Queue.Consume(ctx, w.Concurrency, w.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handle executes one envelope. Envelopes of jobs that already have a
// terminal result are acknowledged without running again. A job found
// RUNNING was started by a worker that went away; its updates may have been
// issued, so it is failed instead of executed twice. A started job is never
// cancelled: it runs on a context detached from ctx.
func (w *Worker) Handle(ctx context.Context, env Envelope) error {
	log := logging.With("job_id", env.JobID, "owner", env.Request.Owner, "kind", env.Request.Kind)

	prev, err := w.Store.GetJobResult(ctx, env.JobID)
	switch {
	case err == nil && prev.Status.Terminal():
		log.Info("job already finished, skipping", "status", prev.Status)
		return nil
	case err == nil && prev.Status == model.JobRunning:
		return w.failLost(context.WithoutCancel(ctx), env)
	case err != nil && !errors.Is(err, db.ErrNotFound):
		return fmt.Errorf("load result of job %s: %w", env.JobID, err)
	}

	runCtx := context.WithoutCancel(ctx)
	if err := w.Store.PutJobResult(runCtx, model.JobResult{
		JobID:   env.JobID,
		Status:  model.JobRunning,
		Outcome: model.JobOutcome{Message: i18n.T("job.running")},
	}); err != nil {
		return fmt.Errorf("mark job %s running: %w", env.JobID, err)
	}

	done := w.Metrics.JobStarted(string(env.Request.Kind))
	log.Info("job started")
	out, runErr := w.execute(runCtx, env)

	res := model.JobResult{JobID: env.JobID, Status: model.JobSucceeded, Outcome: out, UpdatedAt: time.Now()}
	if runErr != nil {
		res.Status = model.JobFailed
		res.Outcome = failureOutcome(runErr, out)
		log.Error("job failed", "failure", res.Outcome.Kind, "err", runErr)
	} else {
		log.Info("job succeeded", "message", out.Message)
	}
	done(string(res.Status), res.Outcome.Kind)

	if err := w.Store.PutJobResult(runCtx, res); err != nil {
		return fmt.Errorf("record result of job %s: %w", env.JobID, err)
	}
	return nil
}

// failLost records the result of a job whose worker disappeared mid-run.
func (w *Worker) failLost(ctx context.Context, env Envelope) error {
	lost := failure.Newf(failure.KindInternal, "execute job", "worker lost during execution")
	out := failureOutcome(lost, model.JobOutcome{})
	out.Message = i18n.T("job.worker_lost")
	logging.With("job_id", env.JobID, "owner", env.Request.Owner, "kind", env.Request.Kind).
		Warn("job was already running, not executing it again")
	if err := w.Store.PutJobResult(ctx, model.JobResult{JobID: env.JobID, Status: model.JobFailed, Outcome: out, UpdatedAt: time.Now()}); err != nil {
		return fmt.Errorf("record result of job %s: %w", env.JobID, err)
	}
	return nil
}

func (w *Worker) execute(ctx context.Context, env Envelope) (out model.JobOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Errorf("job %s panicked: %v\n%s", env.JobID, r, debug.Stack())
			err = failure.Newf(failure.KindInternal, "execute job", "panic: %v", r)
		}
	}()
	return w.Executor.Execute(ctx, env)
}

// failureOutcome builds the localized result of a failed job. Partial detail
// from the executor is appended to the error text.
func failureOutcome(err error, partial model.JobOutcome) model.JobOutcome {
	kind := failure.KindOf(err)
	detail := err.Error()
	if partial.Detail != "" {
		detail = strings.Join([]string{detail, partial.Detail}, "\n")
	}
	return model.JobOutcome{
		Kind:    string(kind),
		Message: i18n.T("failure." + string(kind)),
		Detail:  detail,
	}
}
