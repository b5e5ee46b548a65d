// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/toeirei/patchfleet/internal/model"
	"github.com/uptrace/bun"
)

// CreateJob inserts the local record of a dispatched job.
func (s *BunStore) CreateJob(ctx context.Context, job model.Job) error {
	row := JobModel{
		ID:        job.ID,
		Owner:     job.Owner,
		Kind:      job.Kind,
		Label:     job.Label,
		Request:   string(job.Request),
		StartedAt: job.StartedAt.UTC(),
		Notified:  job.Notified,
	}
	if _, err := s.bun.NewInsert().Model(&row).Exec(ctx); err != nil {
		return MapDBError(err)
	}
	return nil
}

// GetJob returns one job of the owner or ErrNotFound.
func (s *BunStore) GetJob(ctx context.Context, owner, id string) (*model.Job, error) {
	var row JobModel
	if err := s.bun.NewSelect().Model(&row).Where("id = ?", id).Where("owner = ?", owner).Limit(1).Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	j := jobModelToModel(row)
	return &j, nil
}

// ListJobs returns the owner's jobs, newest first.
func (s *BunStore) ListJobs(ctx context.Context, owner string) ([]model.Job, error) {
	var rows []JobModel
	if err := s.bun.NewSelect().Model(&rows).Where("owner = ?", owner).OrderExpr("started_at DESC, id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Job, 0, len(rows))
	for _, r := range rows {
		out = append(out, jobModelToModel(r))
	}
	return out, nil
}

// MarkJobNotified sets the surfaced flag. It reports true only for the call
// that flipped it, so concurrent pollers surface a job once.
func (s *BunStore) MarkJobNotified(ctx context.Context, id string) (bool, error) {
	res, err := s.bun.NewUpdate().Model((*JobModel)(nil)).
		Set("notified = ?", true).
		Where("id = ?", id).
		Where("notified = ?", false).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return affected(res) == 1, nil
}

// DeleteNotifiedJobs removes the owner's surfaced jobs and their results and
// returns how many jobs were removed.
func (s *BunStore) DeleteNotifiedJobs(ctx context.Context, owner string) (int, error) {
	var n int
	err := s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var ids []string
		if err := tx.NewSelect().Model((*JobModel)(nil)).Column("id").
			Where("owner = ?", owner).
			Where("notified = ?", true).
			Scan(ctx, &ids); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if _, err := tx.NewDelete().Model((*JobResultModel)(nil)).Where("job_id IN (?)", bun.In(ids)).Exec(ctx); err != nil {
			return fmt.Errorf("delete job results: %w", err)
		}
		if _, err := tx.NewDelete().Model((*JobModel)(nil)).Where("id IN (?)", bun.In(ids)).Exec(ctx); err != nil {
			return fmt.Errorf("delete jobs: %w", err)
		}
		n = len(ids)
		return nil
	})
	return n, err
}

// PutJobResult writes the result record of a job, replacing any earlier one.
func (s *BunStore) PutJobResult(ctx context.Context, res model.JobResult) error {
	payload, err := json.Marshal(res.Outcome)
	if err != nil {
		return fmt.Errorf("encode job outcome: %w", err)
	}
	updated := res.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	row := JobResultModel{
		JobID:     res.JobID,
		Status:    string(res.Status),
		Result:    string(payload),
		UpdatedAt: updated.UTC(),
	}
	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*JobResultModel)(nil)).Where("job_id = ?", res.JobID).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(&row).Exec(ctx)
		return MapDBError(err)
	})
}

// GetJobResult returns the result record of a job or ErrNotFound.
func (s *BunStore) GetJobResult(ctx context.Context, jobID string) (*model.JobResult, error) {
	var row JobResultModel
	if err := s.bun.NewSelect().Model(&row).Where("job_id = ?", jobID).Limit(1).Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	res, err := jobResultModelToModel(row)
	if err != nil {
		return nil, fmt.Errorf("decode result of job %s: %w", jobID, err)
	}
	return &res, nil
}

// JobResults returns the result records present for jobIDs.
func (s *BunStore) JobResults(ctx context.Context, jobIDs []string) (map[string]model.JobResult, error) {
	out := make(map[string]model.JobResult, len(jobIDs))
	if len(jobIDs) == 0 {
		return out, nil
	}
	var rows []JobResultModel
	if err := s.bun.NewSelect().Model(&rows).Where("job_id IN (?)", bun.In(jobIDs)).Scan(ctx); err != nil {
		return nil, err
	}
	for _, r := range rows {
		res, err := jobResultModelToModel(r)
		if err != nil {
			return nil, fmt.Errorf("decode result of job %s: %w", r.JobID, err)
		}
		out[r.JobID] = res
	}
	return out, nil
}
