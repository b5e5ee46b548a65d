// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// value returns the value of a single-series metric family.
func value(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func TestJobMetrics(t *testing.T) {
	m := New()
	m.JobDispatched("inventory")
	done := m.JobStarted("inventory")
	if got := value(t, m.Registry(), "patchfleet_jobs_running", nil); got != 1 {
		t.Fatalf("expected one running job, got %v", got)
	}
	done("FAILURE", "connection")
	if got := value(t, m.Registry(), "patchfleet_jobs_running", nil); got != 0 {
		t.Fatalf("expected no running job, got %v", got)
	}
	if got := value(t, m.Registry(), "patchfleet_jobs_finished_total", map[string]string{"kind": "inventory", "status": "FAILURE", "failure": "connection"}); got != 1 {
		t.Fatalf("expected finished counter 1, got %v", got)
	}
	m.FeedErrors(3)
	if got := value(t, m.Registry(), "patchfleet_feed_errors_total", nil); got != 3 {
		t.Fatalf("expected 3 feed errors, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.JobDispatched("scan_cve")
	m.JobStarted("scan_cve")("SUCCESS", "")
	m.FeedErrors(1)
	m.RemoteCommand(false)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.RemoteCommand(true)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `patchfleet_remote_commands_total{outcome="ok"} 1`) {
		t.Fatalf("metric missing from exposition:\n%s", body)
	}
}
