// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/toeirei/patchfleet/internal/db"
	"github.com/toeirei/patchfleet/internal/failure"
	"github.com/toeirei/patchfleet/internal/i18n"
	"github.com/toeirei/patchfleet/internal/logging"
	"github.com/toeirei/patchfleet/internal/metrics"
	"github.com/toeirei/patchfleet/internal/model"
)

// View is a job with its current status as returned by Poll.
type View struct {
	ID        string           `json:"id"`
	Owner     string           `json:"owner"`
	Kind      string           `json:"kind"`
	Label     string           `json:"label"`
	StartedAt time.Time        `json:"started_at"`
	Status    model.JobStatus  `json:"status"`
	Outcome   model.JobOutcome `json:"outcome"`
	UpdatedAt *time.Time       `json:"updated_at,omitempty"`
	Notified  bool             `json:"notified"`
	// Surfaced is true only in the poll that first saw the job terminal.
	Surfaced bool `json:"surfaced"`
}

// Dispatcher creates jobs and hands them to the queue.
type Dispatcher struct {
	Store   db.Store
	Queue   Queue
	Metrics *metrics.Metrics
	now     func() time.Time
}

// NewDispatcher returns a dispatcher publishing on queue.
func NewDispatcher(store db.Store, queue Queue, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{Store: store, Queue: queue, Metrics: m, now: time.Now}
}

// Dispatch records a new job and publishes it. When publishing fails the job
// is kept with a FAILURE result so polling still surfaces it.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode job request: %w", err)
	}
	now := time.Now
	if d.now != nil {
		now = d.now
	}
	job := model.Job{
		ID:        uuid.NewString(),
		Owner:     req.Owner,
		Kind:      string(req.Kind),
		Label:     req.Label(),
		Request:   payload,
		StartedAt: now().UTC(),
	}
	if err := d.Store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	d.Metrics.JobDispatched(job.Kind)

	log := logging.With("job_id", job.ID, "owner", job.Owner, "kind", job.Kind)
	env := Envelope{JobID: job.ID, Request: req, DispatchedAt: job.StartedAt}
	if err := d.Queue.Publish(ctx, env); err != nil {
		log.Error("publish job failed", "err", err)
		res := model.JobResult{
			JobID:  job.ID,
			Status: model.JobFailed,
			Outcome: model.JobOutcome{
				Kind:    string(failure.KindInternal),
				Message: i18n.T("failure.publish"),
				Detail:  err.Error(),
			},
		}
		if perr := d.Store.PutJobResult(ctx, res); perr != nil {
			return nil, fmt.Errorf("record failed publish of job %s: %w", job.ID, perr)
		}
		return &job, nil
	}
	log.Info("job dispatched")
	return &job, nil
}

// Redispatch starts a new job from the stored request of an existing one.
func (d *Dispatcher) Redispatch(ctx context.Context, owner, id string) (*model.Job, error) {
	prev, err := d.Store.GetJob(ctx, owner, id)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	req, err := DecodeRequest(prev.Request)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	req.Owner = owner
	return d.Dispatch(ctx, req)
}

// Poll lists the owner's jobs with their status. Terminal jobs not yet
// surfaced are marked surfaced; the conditional update lets exactly one
// poll report them as Surfaced.
func (d *Dispatcher) Poll(ctx context.Context, owner string) ([]View, error) {
	jobs, err := d.Store.ListJobs(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	results, err := d.Store.JobResults(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load job results: %w", err)
	}

	views := make([]View, 0, len(jobs))
	for _, j := range jobs {
		v := newView(j, results)
		if v.Status.Terminal() && !j.Notified {
			flipped, err := d.Store.MarkJobNotified(ctx, j.ID)
			if err != nil {
				return nil, fmt.Errorf("mark job %s surfaced: %w", j.ID, err)
			}
			v.Notified = true
			v.Surfaced = flipped
		}
		views = append(views, v)
	}
	return views, nil
}

// Get returns one job view without marking it surfaced.
func (d *Dispatcher) Get(ctx context.Context, owner, id string) (*View, error) {
	j, err := d.Store.GetJob(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	results, err := d.Store.JobResults(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	v := newView(*j, results)
	return &v, nil
}

// Clear removes the owner's surfaced jobs and their results.
func (d *Dispatcher) Clear(ctx context.Context, owner string) (int, error) {
	n, err := d.Store.DeleteNotifiedJobs(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("clear jobs: %w", err)
	}
	return n, nil
}

func newView(j model.Job, results map[string]model.JobResult) View {
	v := View{
		ID:        j.ID,
		Owner:     j.Owner,
		Kind:      j.Kind,
		Label:     j.Label,
		StartedAt: j.StartedAt,
		Status:    model.JobDispatched,
		Notified:  j.Notified,
	}
	if r, ok := results[j.ID]; ok {
		v.Status = r.Status
		v.Outcome = r.Outcome
		updated := r.UpdatedAt
		v.UpdatedAt = &updated
	}
	return v
}
