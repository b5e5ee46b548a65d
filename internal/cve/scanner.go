// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package cve

import (
	"context"
	"strings"
	"time"

	"github.com/package-url/packageurl-go"
	"github.com/toeirei/patchfleet/internal/db"
	"github.com/toeirei/patchfleet/internal/logging"
	"github.com/toeirei/patchfleet/internal/model"
)

// SystemFindings is the fresh CVE set of one system.
type SystemFindings struct {
	System model.System
	CVEs   []model.CVE
}

// ScanResult is the outcome of querying the feed for a set of candidates.
type ScanResult struct {
	Systems    []SystemFindings
	Queries    int
	FeedErrors int
}

// Report summarises a committed scan.
type Report struct {
	Systems    int `json:"systems"`
	Packages   int `json:"packages"`
	CVEs       int `json:"cves"`
	FeedErrors int `json:"feed_errors"`
}

// Scanner correlates candidates against a feed.
type Scanner struct {
	Store db.Store
	Feed  Feed
	// Now is overridden in tests.
	Now func() time.Time
}

// NewScanner returns a scanner using feed.
func NewScanner(store db.Store, feed Feed) *Scanner {
	return &Scanner{Store: store, Feed: feed, Now: time.Now}
}

// Run builds candidates for owner (systemID 0 selects all systems), queries
// the feed and commits the findings.
func (s *Scanner) Run(ctx context.Context, owner string, systemID int64) (Report, error) {
	cands, err := BuildCandidates(ctx, s.Store, owner, systemID)
	if err != nil {
		return Report{}, err
	}
	res := s.Scan(ctx, cands)
	if err := s.Commit(ctx, owner, res); err != nil {
		return Report{}, err
	}
	rep := Report{Systems: len(res.Systems), Packages: res.Queries, FeedErrors: res.FeedErrors}
	for _, f := range res.Systems {
		rep.CVEs += len(f.CVEs)
	}
	return rep, nil
}

// Scan queries the feed once per distinct package. A failed lookup leaves
// that package without findings and is counted in FeedErrors; it never fails
// the scan.
func (s *Scanner) Scan(ctx context.Context, cands []SystemCandidates) *ScanResult {
	res := &ScanResult{Systems: make([]SystemFindings, 0, len(cands))}
	cache := make(map[string][]Record)
	failed := make(map[string]bool)

	for _, sc := range cands {
		log := logging.With("owner", sc.System.Owner, "host", sc.System.Hostname)
		findings := SystemFindings{System: sc.System, CVEs: []model.CVE{}}
		seen := make(map[string]bool)

		for _, c := range sc.Candidates {
			res.Queries++
			records, cached := cache[c.Query]
			if !cached && !failed[c.Query] {
				var err error
				records, err = s.Feed.Lookup(ctx, c.Query)
				if err != nil {
					log.Warn("feed lookup failed", "package", c.Query, "err", err)
					failed[c.Query] = true
				} else {
					cache[c.Query] = records
				}
			}
			if failed[c.Query] {
				res.FeedErrors++
				continue
			}
			for _, r := range records {
				if seen[r.CVEID] {
					continue
				}
				seen[r.CVEID] = true
				pkgID := c.PackageID
				findings.CVEs = append(findings.CVEs, model.CVE{
					SystemID:        sc.System.ID,
					CVEID:           r.CVEID,
					Description:     r.Description,
					Score:           r.Score,
					Severity:        r.Severity,
					AffectedPackage: c.Query,
					PackageID:       &pkgID,
					PackageURL:      PackageURL(sc.System, c),
				})
			}
		}
		res.Systems = append(res.Systems, findings)
	}
	if res.FeedErrors > 0 {
		logging.Warnf("cve scan finished with %d failed feed lookups", res.FeedErrors)
	}
	return res
}

// Commit replaces the CVE set of every scanned system in one owner
// transaction and stamps the scan time. Systems absent from res are left
// untouched.
func (s *Scanner) Commit(ctx context.Context, owner string, res *ScanResult) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	scannedAt := now().UTC()
	return s.Store.WithOwnerTx(ctx, owner, func(ctx context.Context, tx db.FleetTx) error {
		for _, f := range res.Systems {
			if err := tx.ReplaceCVEs(ctx, f.System.ID, f.CVEs, scannedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// distroNamespaces maps OS name prefixes to purl namespaces.
var distroNamespaces = []struct{ prefix, ns string }{
	{"centos", "centos"},
	{"red hat", "redhat"},
	{"rhel", "redhat"},
	{"rocky", "rocky"},
	{"almalinux", "almalinux"},
	{"fedora", "fedora"},
	{"oracle", "oracle"},
	{"amazon", "amazon"},
}

// PackageURL returns the purl of an affected package, e.g.
// pkg:rpm/centos/openssh@7.4p1-16.el7.
func PackageURL(sys model.System, c Candidate) string {
	ns := "redhat"
	osName := strings.ToLower(sys.OSName)
	for _, d := range distroNamespaces {
		if strings.HasPrefix(osName, d.prefix) {
			ns = d.ns
			break
		}
	}
	return packageurl.NewPackageURL(packageurl.TypeRPM, ns, c.Name, c.Version, nil, "").ToString()
}
