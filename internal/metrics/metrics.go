// Package metrics exposes Prometheus metrics for preparation runs.
//
// All methods are safe on a nil *Metrics, so callers that run without a
// registry (the one-shot CLI build) need no checks.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gulprep"

// Run statuses.
const (
	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusRejected = "rejected"
)

// Drop reasons.
const (
	DropNoValue   = "no_value"
	DropZeroTIV   = "zero_tiv"
	DropUnmatched = "unmatched"
)

// Metrics holds the collectors of one registry.
type Metrics struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	itemsBuilt    prometheus.Counter
	rowsDropped   *prometheus.CounterVec
	artifactWrite *prometheus.HistogramVec
}

// New registers the run collectors, plus Go runtime and process collectors,
// on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Preparation runs by final status.",
		}, []string{"status"}),
		itemsBuilt: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_built_total",
			Help:      "GUL input items produced.",
		}),
		rowsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_dropped_total",
			Help:      "Joined exposure rows dropped before id assignment.",
		}, []string{"reason"}),
		artifactWrite: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "artifact_write_seconds",
			Help:      "Time spent writing one output artifact.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"artifact"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer returns the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// RunFinished counts a run with the given status.
func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}

// ItemsBuilt adds n built items.
func (m *Metrics) ItemsBuilt(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.itemsBuilt.Add(float64(n))
}

// RowsDropped adds n rows dropped for reason.
func (m *Metrics) RowsDropped(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsDropped.WithLabelValues(reason).Add(float64(n))
}

// ArtifactWritten records the write duration of an artifact.
func (m *Metrics) ArtifactWritten(artifact string, d time.Duration) {
	if m == nil {
		return
	}
	m.artifactWrite.WithLabelValues(artifact).Observe(d.Seconds())
}
