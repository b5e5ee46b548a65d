// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package jobs dispatches fleet work as asynchronous units, executes them on
// a worker pool and records their terminal results.
package jobs // import "github.com/toeirei/patchfleet/internal/jobs"

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/toeirei/patchfleet/internal/remote"
)

// Kind is the type of work a job performs.
type Kind string

const (
	KindInventory     Kind = "inventory"
	KindUpdatePackage Kind = "update_package"
	KindUpdateHost    Kind = "update_host"
	KindScanCVE       Kind = "scan_cve"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindInventory, KindUpdatePackage, KindUpdateHost, KindScanCVE:
		return k, nil
	}
	return "", fmt.Errorf("unknown job kind %q", s)
}

// Request describes the work of one job. It is stored with the job so the
// job can be dispatched again.
type Request struct {
	Kind  Kind   `json:"kind"`
	Owner string `json:"owner"`
	// Hosts limits an inventory run. Empty means the whole fleet.
	Hosts     []string `json:"hosts,omitempty"`
	PackageID int64    `json:"package_id,omitempty"`
	// SystemID selects the host of update_host and the scope of scan_cve,
	// where 0 scans every system.
	SystemID int64 `json:"system_id,omitempty"`
}

// Validate checks that the request carries what its kind needs.
func (r Request) Validate() error {
	if r.Owner == "" {
		return errors.New("job request needs an owner")
	}
	if _, err := ParseKind(string(r.Kind)); err != nil {
		return err
	}
	switch r.Kind {
	case KindInventory:
		for _, h := range r.Hosts {
			if err := remote.ValidateIdentifier("host", h); err != nil {
				return err
			}
		}
	case KindUpdatePackage:
		if r.PackageID <= 0 {
			return errors.New("update_package needs a package id")
		}
	case KindUpdateHost:
		if r.SystemID <= 0 {
			return errors.New("update_host needs a system id")
		}
	case KindScanCVE:
		if r.SystemID < 0 {
			return errors.New("scan_cve system id must not be negative")
		}
	}
	return nil
}

// Label is the human readable job title.
func (r Request) Label() string {
	switch r.Kind {
	case KindInventory:
		if len(r.Hosts) > 0 {
			return fmt.Sprintf("Inventory of %d hosts", len(r.Hosts))
		}
		return "Fleet inventory"
	case KindUpdatePackage:
		return fmt.Sprintf("Update package #%d", r.PackageID)
	case KindUpdateHost:
		return fmt.Sprintf("Update all packages of system #%d", r.SystemID)
	case KindScanCVE:
		if r.SystemID != 0 {
			return fmt.Sprintf("CVE scan of system #%d", r.SystemID)
		}
		return "CVE scan of all systems"
	}
	return string(r.Kind)
}

// DecodeRequest decodes a request stored with a job.
func DecodeRequest(b []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(b, &req); err != nil {
		return Request{}, fmt.Errorf("decode job request: %w", err)
	}
	return req, nil
}

// Envelope is the queued message of one job.
type Envelope struct {
	JobID        string    `json:"job_id"`
	Request      Request   `json:"request"`
	DispatchedAt time.Time `json:"dispatched_at"`
}
