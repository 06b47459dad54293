// Package metrics exposes Prometheus instruments for the recompute pipeline.
//
// All methods are safe to call on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline instruments.
type Metrics struct {
	jobsProcessed  *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	enqueues       *prometheus.CounterVec
	snapshotWrites *prometheus.CounterVec
	throttled      *prometheus.CounterVec
}

// New registers the pipeline instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		jobsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollup",
			Name:      "jobs_processed_total",
			Help:      "Jobs handled by worker pools, by queue, kind and outcome.",
		}, []string{"queue", "kind", "outcome"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rollup",
			Name:      "job_duration_seconds",
			Help:      "Handler duration per job kind.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"kind"}),
		enqueues: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollup",
			Name:      "enqueue_total",
			Help:      "Enqueue attempts by kind and result (created, collapsed, unavailable).",
		}, []string{"kind", "result"}),
		snapshotWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollup",
			Name:      "snapshot_writes_total",
			Help:      "Snapshot rows written or skipped by the input hash check.",
		}, []string{"scope", "result"}),
		throttled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollup",
			Name:      "rate_limited_total",
			Help:      "Jobs rescheduled because the tenant bucket was empty.",
		}, []string{"kind"}),
	}
}

// JobProcessed records one handled job.
func (m *Metrics) JobProcessed(queue, kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(queue, kind, outcome).Inc()
	m.jobDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// Enqueued records one enqueue attempt.
func (m *Metrics) Enqueued(kind, result string) {
	if m == nil {
		return
	}
	m.enqueues.WithLabelValues(kind, result).Inc()
}

// SnapshotWrites records written and hash-skipped snapshot rows.
func (m *Metrics) SnapshotWrites(scope string, written, skipped int) {
	if m == nil {
		return
	}
	m.snapshotWrites.WithLabelValues(scope, "written").Add(float64(written))
	m.snapshotWrites.WithLabelValues(scope, "unchanged").Add(float64(skipped))
}

// Throttled records a rate-limited job.
func (m *Metrics) Throttled(kind string) {
	if m == nil {
		return
	}
	m.throttled.WithLabelValues(kind).Inc()
}
