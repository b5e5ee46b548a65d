// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package metrics exposes Prometheus collectors for jobs and fleet state.
package metrics // import "github.com/toeirei/patchfleet/internal/metrics"

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	jobsDispatched *prometheus.CounterVec
	jobsFinished   *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobsRunning    prometheus.Gauge
	feedErrors     prometheus.Counter
	remoteCommands *prometheus.CounterVec
}

// New registers the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		jobsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "patchfleet_jobs_dispatched_total",
			Help: "Jobs dispatched by kind",
		}, []string{"kind"}),
		jobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "patchfleet_jobs_finished_total",
			Help: "Jobs finished by kind, status and failure kind",
		}, []string{"kind", "status", "failure"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "patchfleet_job_duration_seconds",
			Help:    "Duration of job execution",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"kind"}),
		jobsRunning: f.NewGauge(prometheus.GaugeOpts{
			Name: "patchfleet_jobs_running",
			Help: "Jobs currently executing in this process",
		}),
		feedErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "patchfleet_feed_errors_total",
			Help: "Failed vulnerability feed lookups",
		}),
		remoteCommands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "patchfleet_remote_commands_total",
			Help: "Commands run on the control node by outcome",
		}, []string{"outcome"}),
	}
}

// Registry returns the registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// JobDispatched counts a dispatched job.
func (m *Metrics) JobDispatched(kind string) {
	if m == nil {
		return
	}
	m.jobsDispatched.WithLabelValues(kind).Inc()
}

// JobStarted marks a job as running and returns a func recording its end.
func (m *Metrics) JobStarted(kind string) func(status, failureKind string) {
	if m == nil {
		return func(string, string) {}
	}
	start := time.Now()
	m.jobsRunning.Inc()
	return func(status, failureKind string) {
		m.jobsRunning.Dec()
		m.jobDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		m.jobsFinished.WithLabelValues(kind, status, failureKind).Inc()
	}
}

// FeedErrors adds n failed feed lookups.
func (m *Metrics) FeedErrors(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.feedErrors.Add(float64(n))
}

// RemoteCommand counts one control node command.
func (m *Metrics) RemoteCommand(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.remoteCommands.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
