// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package cve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/toeirei/patchfleet/internal/failure"
	"github.com/toeirei/patchfleet/internal/model"
)

// DefaultFeedURL is the public Red Hat security data API.
const DefaultFeedURL = "https://access.redhat.com/labs/securitydataapi"

const defaultFeedTimeout = 30 * time.Second

// Record is one vulnerability reported for a package.
type Record struct {
	CVEID       string
	Description string
	Severity    model.Severity
	Score       *float64
}

// Feed looks up the vulnerabilities of one "name-version" package.
type Feed interface {
	Lookup(ctx context.Context, pkg string) ([]Record, error)
}

// RedHatFeed queries the Red Hat security data API.
type RedHatFeed struct {
	BaseURL string
	Client  *http.Client
}

// NewRedHatFeed returns a feed client. An empty base selects DefaultFeedURL.
func NewRedHatFeed(base string, timeout time.Duration) *RedHatFeed {
	if base == "" {
		base = DefaultFeedURL
	}
	if timeout <= 0 {
		timeout = defaultFeedTimeout
	}
	return &RedHatFeed{
		BaseURL: strings.TrimRight(base, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

type feedRecord struct {
	CVE         string    `json:"CVE"`
	Description string    `json:"bugzilla_description"`
	Severity    string    `json:"severity"`
	CVSS3Score  flexScore `json:"cvss3_score"`
	CVSSScore   flexScore `json:"cvss_score"`
}

// flexScore decodes a score sent as number, string or null.
type flexScore struct {
	v *float64
}

func (f *flexScore) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid score %q", s)
	}
	f.v = &v
	return nil
}

// Lookup implements Feed. Every transport, status or decoding problem is a
// feed failure.
func (f *RedHatFeed) Lookup(ctx context.Context, pkg string) ([]Record, error) {
	op := "query feed for " + pkg
	u := f.BaseURL + "/cve.json?" + url.Values{"package": {pkg}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, failure.New(failure.KindFeed, op, err)
	}
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: defaultFeedTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, failure.New(failure.KindFeed, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, failure.New(failure.KindFeed, op, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, failure.Newf(failure.KindFeed, op, "HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return decodeRecords(body, op)
}

func decodeRecords(body []byte, op string) ([]Record, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var raw []feedRecord
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, failure.New(failure.KindFeed, op, fmt.Errorf("decode response: %w", err))
	}
	out := make([]Record, 0, len(raw))
	for _, r := range raw {
		if r.CVE == "" {
			continue
		}
		score := r.CVSS3Score.v
		if score == nil {
			score = r.CVSSScore.v
		}
		out = append(out, Record{
			CVEID:       r.CVE,
			Description: describe(r.Description),
			Severity:    model.ParseSeverity(r.Severity),
			Score:       score,
		})
	}
	return out, nil
}

// describe drops the "CVE-XXXX-YYYY package:" prefix of a bugzilla summary.
func describe(s string) string {
	if i := strings.Index(s, ":"); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
