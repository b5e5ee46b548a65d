// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// package model defines the core data structures shared by the parser, the
// store, the job layer and the CLI.
package model // import "github.com/toeirei/patchfleet/internal/model"

import (
	"fmt"
	"time"
)

// System is one managed host inside an owner's fleet. It is identified by
// (Hostname, Owner).
type System struct {
	ID             int64
	Owner          string
	Hostname       string
	Connected      bool
	OSName         string
	OSVersion      string
	Kernel         string
	PackageManager string // raw identifier reported by the agent, e.g. "yum"
	CVEsScannedAt  *time.Time
	UpdatedAt      time.Time
}

// Kind returns the package manager family of the system.
func (s System) Kind() PackageManagerKind {
	return ParsePackageManager(s.PackageManager)
}

// String returns the hostname with the owner for log lines.
func (s System) String() string {
	return fmt.Sprintf("%s (%s)", s.Hostname, s.Owner)
}

// Package is an installed package on a System. Inactive packages have vanished
// from the host and are ignored until they are reported again.
type Package struct {
	ID             int64
	SystemID       int64
	Name           string
	CurrentVersion string
	NewVersion     *string
	Active         bool
}

// HasUpdate reports whether the package is active and has a pending version.
func (p Package) HasUpdate() bool {
	return p.Active && p.NewVersion != nil
}

// Candidate returns the "name-version" key used to query the vulnerability feed.
func (p Package) Candidate() string {
	return CanonicalPackageName(p.Name) + "-" + p.CurrentVersion
}

// CVE is a vulnerability correlated to one System.
type CVE struct {
	ID              int64
	SystemID        int64
	CVEID           string
	Description     string
	Score           *float64
	Severity        Severity
	AffectedPackage string // candidate string, "name-version"
	PackageID       *int64
	PackageURL      string
}

// Job is the local record of one dispatched unit of work. Its live status is
// kept in the result store under the same correlation id.
type Job struct {
	ID        string // correlation id
	Owner     string
	Kind      string
	Label     string
	Request   []byte // serialized dispatch request, used for re-dispatch
	StartedAt time.Time
	Notified  bool
}

// JobStatus is the status value kept in the terminal-result store.
type JobStatus string

const (
	// JobDispatched is reported for jobs without any result record yet.
	JobDispatched JobStatus = "DISPATCHED"
	JobRunning    JobStatus = "RUNNING"
	JobSucceeded  JobStatus = "SUCCESS"
	JobFailed     JobStatus = "FAILURE"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// JobOutcome is the structured result payload of a job.
type JobOutcome struct {
	Kind    string `json:"kind,omitempty"` // failure kind, empty on success
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// JobResult is the terminal-result record of a job.
type JobResult struct {
	JobID     string
	Status    JobStatus
	Outcome   JobOutcome
	UpdatedAt time.Time
}

// KnownHost is a pinned SSH host key of a control node.
type KnownHost struct {
	Hostname string
	Key      string
}

// SystemSnapshot bundles a system with its packages and CVEs for export.
type SystemSnapshot struct {
	System   System    `json:"system"`
	Packages []Package `json:"packages"`
	CVEs     []CVE     `json:"cves"`
}

// FleetSnapshot is a point-in-time export of one owner's fleet.
type FleetSnapshot struct {
	SchemaVersion int              `json:"schema_version"`
	Owner         string           `json:"owner"`
	ExportedAt    time.Time        `json:"exported_at"`
	Systems       []SystemSnapshot `json:"systems"`
}

// FleetSummary is the dashboard view of one owner's fleet.
type FleetSummary struct {
	Owner          string           `json:"owner"`
	Systems        int              `json:"systems"`
	Connected      int              `json:"connected"`
	PendingUpdates int              `json:"pending_updates"`
	CVEs           int              `json:"cves"`
	CVEsBySeverity map[Severity]int `json:"cves_by_severity"`
}
