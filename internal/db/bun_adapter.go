// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/toeirei/patchfleet/internal/model"
	"github.com/uptrace/bun"
)

// SystemModel maps the systems table.
type SystemModel struct {
	bun.BaseModel  `bun:"table:systems"`
	ID             int64        `bun:"id,pk,autoincrement"`
	Owner          string       `bun:"owner"`
	Hostname       string       `bun:"hostname"`
	Connected      bool         `bun:"connected"`
	OSName         string       `bun:"os_name"`
	OSVersion      string       `bun:"os_version"`
	Kernel         string       `bun:"kernel"`
	PackageManager string       `bun:"package_manager"`
	CVEsScannedAt  bun.NullTime `bun:"cves_scanned_at"`
	UpdatedAt      time.Time    `bun:"updated_at"`
}

// PackageModel maps the packages table.
type PackageModel struct {
	bun.BaseModel  `bun:"table:packages"`
	ID             int64          `bun:"id,pk,autoincrement"`
	SystemID       int64          `bun:"system_id"`
	Name           string         `bun:"name"`
	CurrentVersion string         `bun:"current_version"`
	NewVersion     sql.NullString `bun:"new_version"`
	Active         bool           `bun:"active"`
}

// CVEModel maps the cves table.
type CVEModel struct {
	bun.BaseModel   `bun:"table:cves"`
	ID              int64           `bun:"id,pk,autoincrement"`
	SystemID        int64           `bun:"system_id"`
	CVEID           string          `bun:"cve_id"`
	Description     string          `bun:"description"`
	Score           sql.NullFloat64 `bun:"score"`
	Severity        string          `bun:"severity"`
	AffectedPackage string          `bun:"affected_package"`
	PackageID       sql.NullInt64   `bun:"package_id"`
	PackageURL      string          `bun:"package_url"`
}

// JobModel maps the jobs table.
type JobModel struct {
	bun.BaseModel `bun:"table:jobs"`
	ID            string    `bun:"id,pk"`
	Owner         string    `bun:"owner"`
	Kind          string    `bun:"kind"`
	Label         string    `bun:"label"`
	Request       string    `bun:"request"`
	StartedAt     time.Time `bun:"started_at"`
	Notified      bool      `bun:"notified"`
}

// JobResultModel maps job_results, the terminal-result store.
type JobResultModel struct {
	bun.BaseModel `bun:"table:job_results"`
	JobID         string    `bun:"job_id,pk"`
	Status        string    `bun:"status"`
	Result        string    `bun:"result"`
	UpdatedAt     time.Time `bun:"updated_at"`
}

// KnownHostModel maps known_hosts.
type KnownHostModel struct {
	bun.BaseModel `bun:"table:known_hosts"`
	Hostname      string `bun:"hostname,pk"`
	Key           string `bun:"host_key"`
}

// --- Mapping helpers (centralized conversions) ---

func systemModelToModel(s SystemModel) model.System {
	sys := model.System{
		ID:             s.ID,
		Owner:          s.Owner,
		Hostname:       s.Hostname,
		Connected:      s.Connected,
		OSName:         s.OSName,
		OSVersion:      s.OSVersion,
		Kernel:         s.Kernel,
		PackageManager: s.PackageManager,
		UpdatedAt:      s.UpdatedAt,
	}
	if !s.CVEsScannedAt.IsZero() {
		t := s.CVEsScannedAt.Time
		sys.CVEsScannedAt = &t
	}
	return sys
}

func packageModelToModel(p PackageModel) model.Package {
	pkg := model.Package{
		ID:             p.ID,
		SystemID:       p.SystemID,
		Name:           p.Name,
		CurrentVersion: p.CurrentVersion,
		Active:         p.Active,
	}
	if p.NewVersion.Valid {
		v := p.NewVersion.String
		pkg.NewVersion = &v
	}
	return pkg
}

func cveModelToModel(c CVEModel) model.CVE {
	cve := model.CVE{
		ID:              c.ID,
		SystemID:        c.SystemID,
		CVEID:           c.CVEID,
		Description:     c.Description,
		Severity:        model.Severity(c.Severity),
		AffectedPackage: c.AffectedPackage,
		PackageURL:      c.PackageURL,
	}
	if c.Score.Valid {
		v := c.Score.Float64
		cve.Score = &v
	}
	if c.PackageID.Valid {
		v := c.PackageID.Int64
		cve.PackageID = &v
	}
	return cve
}

func cveToModelRow(systemID int64, c model.CVE) CVEModel {
	row := CVEModel{
		SystemID:        systemID,
		CVEID:           c.CVEID,
		Description:     c.Description,
		Severity:        string(c.Severity),
		AffectedPackage: c.AffectedPackage,
		PackageURL:      c.PackageURL,
	}
	if c.Score != nil {
		row.Score = sql.NullFloat64{Float64: *c.Score, Valid: true}
	}
	if c.PackageID != nil {
		row.PackageID = sql.NullInt64{Int64: *c.PackageID, Valid: true}
	}
	return row
}

func jobModelToModel(j JobModel) model.Job {
	return model.Job{
		ID:        j.ID,
		Owner:     j.Owner,
		Kind:      j.Kind,
		Label:     j.Label,
		Request:   []byte(j.Request),
		StartedAt: j.StartedAt,
		Notified:  j.Notified,
	}
}

func jobResultModelToModel(r JobResultModel) (model.JobResult, error) {
	res := model.JobResult{
		JobID:     r.JobID,
		Status:    model.JobStatus(r.Status),
		UpdatedAt: r.UpdatedAt,
	}
	if r.Result != "" {
		if err := json.Unmarshal([]byte(r.Result), &res.Outcome); err != nil {
			return res, err
		}
	}
	return res, nil
}
