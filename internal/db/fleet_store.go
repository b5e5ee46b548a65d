// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/toeirei/patchfleet/internal/model"
	"github.com/uptrace/bun"
)

// BunStore implements Store on top of a long-lived *bun.DB.
type BunStore struct {
	bun    *bun.DB
	dbType string
	locks  *ownerLocks
}

// BunDB exposes the underlying Bun handle for callers that need it.
func (s *BunStore) BunDB() *bun.DB { return s.bun }

// Close closes the database.
func (s *BunStore) Close() error { return s.bun.Close() }

// WithOwnerTx runs fn inside one transaction while holding the owner's lock.
// The lock is an in-process keyed mutex plus, on PostgreSQL and MySQL, an
// advisory lock that serializes writers in other processes as well.
func (s *BunStore) WithOwnerTx(ctx context.Context, owner string, fn func(ctx context.Context, tx FleetTx) error) error {
	unlock := s.locks.lock(owner)
	defer unlock()

	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := acquireAdvisoryLock(ctx, tx, s.dbType, owner); err != nil {
			return err
		}
		defer releaseAdvisoryLock(ctx, tx, s.dbType, owner)
		return fn(ctx, &fleetTx{tx: tx, owner: owner})
	})
}

type fleetTx struct {
	tx    bun.Tx
	owner string
}

func (f *fleetTx) SetConnected(ctx context.Context, hostnames []string) error {
	_, err := f.tx.NewUpdate().Model((*SystemModel)(nil)).
		Set("connected = ?", false).
		Where("owner = ?", f.owner).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("disconnect systems of %s: %w", f.owner, err)
	}
	if len(hostnames) == 0 {
		return nil
	}
	_, err = f.tx.NewUpdate().Model((*SystemModel)(nil)).
		Set("connected = ?", true).
		Where("owner = ?", f.owner).
		Where("hostname IN (?)", bun.In(hostnames)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("connect systems of %s: %w", f.owner, err)
	}
	return nil
}

func (f *fleetTx) SystemByHostname(ctx context.Context, hostname string) (*model.System, error) {
	return systemByHostname(ctx, f.tx, f.owner, hostname)
}

func (f *fleetTx) UpsertSystem(ctx context.Context, sys model.System) (model.System, error) {
	now := time.Now().UTC()
	var row SystemModel
	err := f.tx.NewSelect().Model(&row).
		Where("owner = ?", f.owner).
		Where("hostname = ?", sys.Hostname).
		Limit(1).Scan(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		row = SystemModel{
			Owner:          f.owner,
			Hostname:       sys.Hostname,
			Connected:      sys.Connected,
			OSName:         sys.OSName,
			OSVersion:      sys.OSVersion,
			Kernel:         sys.Kernel,
			PackageManager: sys.PackageManager,
			UpdatedAt:      now,
		}
		if _, err := f.tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			return model.System{}, MapDBError(err)
		}
	case err != nil:
		return model.System{}, err
	default:
		row.Connected = sys.Connected
		row.OSName = sys.OSName
		row.OSVersion = sys.OSVersion
		row.Kernel = sys.Kernel
		row.PackageManager = sys.PackageManager
		row.UpdatedAt = now
		if _, err := f.tx.NewUpdate().Model(&row).
			Column("connected", "os_name", "os_version", "kernel", "package_manager", "updated_at").
			WherePK().Exec(ctx); err != nil {
			return model.System{}, err
		}
	}
	return systemModelToModel(row), nil
}

func (f *fleetTx) DeactivatePackages(ctx context.Context, systemID int64) error {
	_, err := f.tx.NewUpdate().Model((*PackageModel)(nil)).
		Set("active = ?", false).
		Where("system_id = ?", systemID).
		Exec(ctx)
	return err
}

func (f *fleetTx) UpsertInstalled(ctx context.Context, systemID int64, name, version string) error {
	res, err := f.tx.NewUpdate().Model((*PackageModel)(nil)).
		Set("current_version = ?", version).
		Set("new_version = NULL").
		Set("active = ?", true).
		Where("system_id = ?", systemID).
		Where("name = ?", name).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected(res) > 0 {
		return nil
	}
	// MySQL reports zero affected rows for updates that change nothing, so
	// check for the row before inserting.
	exists, err := f.tx.NewSelect().Model((*PackageModel)(nil)).
		Where("system_id = ?", systemID).
		Where("name = ?", name).
		Exists(ctx)
	if err != nil || exists {
		return err
	}
	row := PackageModel{SystemID: systemID, Name: name, CurrentVersion: version, Active: true}
	if _, err := f.tx.NewInsert().Model(&row).Exec(ctx); err != nil {
		return MapDBError(err)
	}
	return nil
}

func (f *fleetTx) SetPendingVersion(ctx context.Context, systemID int64, name, version string) (bool, error) {
	res, err := f.tx.NewUpdate().Model((*PackageModel)(nil)).
		Set("new_version = ?", version).
		Where("system_id = ?", systemID).
		Where("name = ?", name).
		Where("active = ?", true).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	if affected(res) > 0 {
		return true, nil
	}
	return f.tx.NewSelect().Model((*PackageModel)(nil)).
		Where("system_id = ?", systemID).
		Where("name = ?", name).
		Where("active = ?", true).
		Exists(ctx)
}

func (f *fleetTx) ReplaceCVEs(ctx context.Context, systemID int64, cves []model.CVE, scannedAt time.Time) error {
	if _, err := f.tx.NewDelete().Model((*CVEModel)(nil)).Where("system_id = ?", systemID).Exec(ctx); err != nil {
		return fmt.Errorf("delete cves of system %d: %w", systemID, err)
	}
	if len(cves) > 0 {
		rows := make([]CVEModel, 0, len(cves))
		for _, c := range cves {
			rows = append(rows, cveToModelRow(systemID, c))
		}
		if _, err := f.tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
			return fmt.Errorf("insert cves of system %d: %w", systemID, MapDBError(err))
		}
	}
	_, err := f.tx.NewUpdate().Model((*SystemModel)(nil)).
		Set("cves_scanned_at = ?", scannedAt.UTC()).
		Where("id = ?", systemID).
		Where("owner = ?", f.owner).
		Exec(ctx)
	return err
}

// selector is implemented by *bun.DB and bun.Tx.
type selector interface {
	NewSelect() *bun.SelectQuery
}

func systemByHostname(ctx context.Context, q selector, owner, hostname string) (*model.System, error) {
	var row SystemModel
	err := q.NewSelect().Model(&row).
		Where("owner = ?", owner).
		Where("hostname = ?", hostname).
		Limit(1).Scan(ctx)
	if err != nil {
		return nil, MapDBError(err)
	}
	sys := systemModelToModel(row)
	return &sys, nil
}

// ListSystems returns the owner's systems ordered by hostname.
func (s *BunStore) ListSystems(ctx context.Context, owner string) ([]model.System, error) {
	var rows []SystemModel
	if err := s.bun.NewSelect().Model(&rows).Where("owner = ?", owner).OrderExpr("hostname ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.System, 0, len(rows))
	for _, r := range rows {
		out = append(out, systemModelToModel(r))
	}
	return out, nil
}

// GetSystem returns one system of the owner or ErrNotFound.
func (s *BunStore) GetSystem(ctx context.Context, owner string, id int64) (*model.System, error) {
	var row SystemModel
	err := s.bun.NewSelect().Model(&row).Where("id = ?", id).Where("owner = ?", owner).Limit(1).Scan(ctx)
	if err != nil {
		return nil, MapDBError(err)
	}
	sys := systemModelToModel(row)
	return &sys, nil
}

// GetSystemByHostname returns one system of the owner or ErrNotFound.
func (s *BunStore) GetSystemByHostname(ctx context.Context, owner, hostname string) (*model.System, error) {
	return systemByHostname(ctx, s.bun, owner, hostname)
}

// DeleteSystem removes a system together with its packages and CVEs.
func (s *BunStore) DeleteSystem(ctx context.Context, owner string, id int64) error {
	return s.WithOwnerTx(ctx, owner, func(ctx context.Context, ftx FleetTx) error {
		tx := ftx.(*fleetTx).tx
		exists, err := tx.NewSelect().Model((*SystemModel)(nil)).Where("id = ?", id).Where("owner = ?", owner).Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		if _, err := tx.NewDelete().Model((*CVEModel)(nil)).Where("system_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*PackageModel)(nil)).Where("system_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		_, err = tx.NewDelete().Model((*SystemModel)(nil)).Where("id = ?", id).Exec(ctx)
		return err
	})
}

// ListPackages returns the packages of a system ordered by name.
func (s *BunStore) ListPackages(ctx context.Context, systemID int64, activeOnly bool) ([]model.Package, error) {
	var rows []PackageModel
	q := s.bun.NewSelect().Model(&rows).Where("system_id = ?", systemID)
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	if err := q.OrderExpr("name ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return packageModelsToModels(rows), nil
}

// PendingPackages returns the active packages of a system with a pending version.
func (s *BunStore) PendingPackages(ctx context.Context, systemID int64) ([]model.Package, error) {
	var rows []PackageModel
	err := s.bun.NewSelect().Model(&rows).
		Where("system_id = ?", systemID).
		Where("active = ?", true).
		Where("new_version IS NOT NULL").
		OrderExpr("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return packageModelsToModels(rows), nil
}

// GetPackage returns a package and its system when the system belongs to owner.
func (s *BunStore) GetPackage(ctx context.Context, owner string, id int64) (*model.Package, *model.System, error) {
	var row PackageModel
	if err := s.bun.NewSelect().Model(&row).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, nil, MapDBError(err)
	}
	sys, err := s.GetSystem(ctx, owner, row.SystemID)
	if err != nil {
		return nil, nil, err
	}
	pkg := packageModelToModel(row)
	return &pkg, sys, nil
}

func packageModelsToModels(rows []PackageModel) []model.Package {
	out := make([]model.Package, 0, len(rows))
	for _, r := range rows {
		out = append(out, packageModelToModel(r))
	}
	return out
}

// ListCVEs returns the CVE rows of a system.
func (s *BunStore) ListCVEs(ctx context.Context, systemID int64) ([]model.CVE, error) {
	var rows []CVEModel
	if err := s.bun.NewSelect().Model(&rows).Where("system_id = ?", systemID).OrderExpr("cve_id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.CVE, 0, len(rows))
	for _, r := range rows {
		out = append(out, cveModelToModel(r))
	}
	return out, nil
}

// Summary returns dashboard counters for the owner.
func (s *BunStore) Summary(ctx context.Context, owner string) (*model.FleetSummary, error) {
	sum := &model.FleetSummary{Owner: owner, CVEsBySeverity: map[model.Severity]int{}}

	total, err := s.bun.NewSelect().Model((*SystemModel)(nil)).Where("owner = ?", owner).Count(ctx)
	if err != nil {
		return nil, err
	}
	connected, err := s.bun.NewSelect().Model((*SystemModel)(nil)).Where("owner = ?", owner).Where("connected = ?", true).Count(ctx)
	if err != nil {
		return nil, err
	}
	sum.Systems, sum.Connected = total, connected

	if err := QueryRawInto(ctx, s.bun, &sum.PendingUpdates,
		"SELECT COUNT(*) FROM packages p JOIN systems s ON s.id = p.system_id WHERE s.owner = ? AND p.active = ? AND p.new_version IS NOT NULL",
		owner, true); err != nil {
		return nil, fmt.Errorf("count pending updates: %w", err)
	}

	var bySeverity []struct {
		Severity string `bun:"severity"`
		N        int    `bun:"n"`
	}
	if err := QueryRawInto(ctx, s.bun, &bySeverity,
		"SELECT c.severity AS severity, COUNT(*) AS n FROM cves c JOIN systems s ON s.id = c.system_id WHERE s.owner = ? GROUP BY c.severity",
		owner); err != nil {
		return nil, fmt.Errorf("count cves: %w", err)
	}
	for _, r := range bySeverity {
		sum.CVEsBySeverity[model.Severity(r.Severity)] = r.N
		sum.CVEs += r.N
	}
	return sum, nil
}
