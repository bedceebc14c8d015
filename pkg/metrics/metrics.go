// Package metrics defines the Prometheus metric collectors for the index
// write and read paths and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for one index.
type Metrics struct {
	DocsIndexedTotal     prometheus.Counter
	RunsSpilledTotal     prometheus.Counter
	SegmentsWrittenTotal prometheus.Counter
	CommitsTotal         *prometheus.CounterVec
	MergesTotal          prometheus.Counter
	CommitDuration       prometheus.Histogram
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        prometheus.Histogram
	LiveSegments         prometheus.Gauge

	registry *prometheus.Registry
}

// New creates all collectors and registers them with reg. A nil reg leaves
// the collectors unregistered, which is the right default for library use
// where the caller owns no registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DocsIndexedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "index_docs_indexed_total",
			Help: "Total number of documents added to writer sessions.",
		}),
		RunsSpilledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "index_runs_spilled_total",
			Help: "Total number of sorted runs spilled to temporary storage.",
		}),
		SegmentsWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "index_segments_written_total",
			Help: "Total number of segments written by commits and merges.",
		}),
		CommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_commits_total",
				Help: "Total commits by outcome (ok, error, cancelled).",
			},
			[]string{"outcome"},
		),
		MergesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "index_merges_total",
			Help: "Total segment merges completed.",
		}),
		CommitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "index_commit_duration_seconds",
			Help:    "Commit latency in seconds, including the final merge and segment write.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search evaluations by outcome (ok, cancelled, error).",
			},
			[]string{"outcome"},
		),
		SearchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "search_latency_seconds",
			Help:    "Matcher evaluation latency in seconds.",
			Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		LiveSegments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "index_live_segments",
			Help: "Number of segments referenced by the current TOC generation.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.DocsIndexedTotal,
			m.RunsSpilledTotal,
			m.SegmentsWrittenTotal,
			m.CommitsTotal,
			m.MergesTotal,
			m.CommitDuration,
			m.SearchQueriesTotal,
			m.SearchLatency,
			m.LiveSegments,
		)
	}
	return m
}

// NewWithRegistry creates a private registry plus collectors registered in
// it, for processes that want an isolated scrape endpoint.
func NewWithRegistry() *Metrics {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.registry = reg
	return m
}

// Handler returns the scrape handler for the private registry, or the
// default registry's handler if New was used directly.
func (m *Metrics) Handler() http.Handler {
	if m.registry != nil {
		return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}
