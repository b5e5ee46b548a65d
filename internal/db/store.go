// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"time"

	"github.com/toeirei/patchfleet/internal/model"
)

// FleetTx is the write surface available inside an owner transaction. Every
// method is scoped to the owner the transaction was opened for.
type FleetTx interface {
	// SetConnected marks the owner's systems named in hostnames connected
	// and every other system of the owner disconnected.
	SetConnected(ctx context.Context, hostnames []string) error
	// UpsertSystem inserts or updates the system identified by its hostname
	// and returns the stored row.
	UpsertSystem(ctx context.Context, sys model.System) (model.System, error)
	SystemByHostname(ctx context.Context, hostname string) (*model.System, error)
	// DeactivatePackages marks every package of the system inactive.
	DeactivatePackages(ctx context.Context, systemID int64) error
	// UpsertInstalled stores an installed package as active with no pending version.
	UpsertInstalled(ctx context.Context, systemID int64, name, version string) error
	// SetPendingVersion sets new_version on an active package. It reports
	// false when no active package of that name exists.
	SetPendingVersion(ctx context.Context, systemID int64, name, version string) (bool, error)
	// ReplaceCVEs deletes the system's CVE rows, inserts cves and stamps
	// the scan time.
	ReplaceCVEs(ctx context.Context, systemID int64, cves []model.CVE, scannedAt time.Time) error
}

// Store defines every database operation of Patchfleet.
type Store interface {
	WithOwnerTx(ctx context.Context, owner string, fn func(ctx context.Context, tx FleetTx) error) error

	// Systems and packages
	ListSystems(ctx context.Context, owner string) ([]model.System, error)
	GetSystem(ctx context.Context, owner string, id int64) (*model.System, error)
	GetSystemByHostname(ctx context.Context, owner, hostname string) (*model.System, error)
	DeleteSystem(ctx context.Context, owner string, id int64) error
	ListPackages(ctx context.Context, systemID int64, activeOnly bool) ([]model.Package, error)
	PendingPackages(ctx context.Context, systemID int64) ([]model.Package, error)
	GetPackage(ctx context.Context, owner string, id int64) (*model.Package, *model.System, error)
	ListCVEs(ctx context.Context, systemID int64) ([]model.CVE, error)
	Summary(ctx context.Context, owner string) (*model.FleetSummary, error)
	ExportFleet(ctx context.Context, owner string) (*model.FleetSnapshot, error)

	// Jobs and the terminal-result store
	CreateJob(ctx context.Context, job model.Job) error
	GetJob(ctx context.Context, owner, id string) (*model.Job, error)
	ListJobs(ctx context.Context, owner string) ([]model.Job, error)
	MarkJobNotified(ctx context.Context, id string) (bool, error)
	DeleteNotifiedJobs(ctx context.Context, owner string) (int, error)
	PutJobResult(ctx context.Context, res model.JobResult) error
	GetJobResult(ctx context.Context, jobID string) (*model.JobResult, error)
	JobResults(ctx context.Context, jobIDs []string) (map[string]model.JobResult, error)

	// Host keys
	GetKnownHostKey(ctx context.Context, hostname string) (string, error)
	AddKnownHostKey(ctx context.Context, hostname, key string) error
	DeleteKnownHostKey(ctx context.Context, hostname string) error

	RunDBMaintenance(ctx context.Context) error
	Close() error
}

var _ Store = (*BunStore)(nil)
