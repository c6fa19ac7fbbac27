// Package metrics exposes Prometheus counters for dashboard
// fetches, report exports and imports on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch results.
const (
	FetchOK         = "ok"
	FetchError      = "error"
	FetchSuperseded = "superseded"
	FetchAbandoned  = "abandoned"
)

// Report results.
const (
	ReportOK        = "ok"
	ReportFailed    = "failed"
	ReportTimeout   = "timeout"
	ReportDiscarded = "discarded"
)

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	fetches       *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	reports       *prometheus.CounterVec
	imported      *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botsview_dashboard_fetches_total",
				Help: "Dashboard provider fetches by result.",
			},
			[]string{"result"},
		),
		fetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "botsview_dashboard_fetch_duration_seconds",
				Help:    "Duration of dashboard provider fetches.",
				Buckets: prometheus.DefBuckets,
			},
		),
		reports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botsview_reports_total",
				Help: "Report export attempts by output format and result.",
			},
			[]string{"format", "result"},
		),
		imported: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botsview_imported_records_total",
				Help: "Imported JSONL records by kind.",
			},
			[]string{"kind"},
		),
	}
	m.registry.MustRegister(
		m.fetches, m.fetchDuration, m.reports, m.imported,
		collectors.NewGoCollector(),
	)
	return m
}

// ObserveFetch records one dashboard fetch.
func (m *Metrics) ObserveFetch(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(result).Inc()
	m.fetchDuration.Observe(d.Seconds())
}

// ObserveReport records one export attempt.
func (m *Metrics) ObserveReport(format, result string) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(format, result).Inc()
}

// ObserveImport records n imported records of kind.
func (m *Metrics) ObserveImport(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.imported.WithLabelValues(kind).Add(float64(n))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
