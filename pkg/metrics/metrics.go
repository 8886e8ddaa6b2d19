// Package metrics holds the prometheus collectors of the chat service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	SessionsStarted   prometheus.Counter
	SessionsActive    prometheus.Gauge
	Questions         *prometheus.CounterVec
	CitationsResolved prometheus.Counter
	CitationsDropped  prometheus.Counter
	IndexingSeconds   prometheus.Histogram
	IndexedChunks     prometheus.Counter
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docinsights", Name: "sessions_started_total",
			Help: "Chat sessions started.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "docinsights", Name: "sessions_active",
			Help: "Chat sessions currently open.",
		}),
		Questions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docinsights", Name: "questions_total",
			Help: "Questions answered, by outcome.",
		}, []string{"outcome"}),
		CitationsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docinsights", Name: "citations_resolved_total",
			Help: "Citation tokens that matched an ingested chunk.",
		}),
		CitationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docinsights", Name: "citations_unmatched_total",
			Help: "Citation tokens that matched no chunk and were dropped.",
		}),
		IndexingSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docinsights", Name: "indexing_duration_seconds",
			Help:    "Time to split, embed and index an upload.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		IndexedChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docinsights", Name: "indexed_chunks_total",
			Help: "Chunks produced from uploads.",
		}),
	}
	m.Registry.MustRegister(
		m.SessionsStarted, m.SessionsActive, m.Questions,
		m.CitationsResolved, m.CitationsDropped,
		m.IndexingSeconds, m.IndexedChunks,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
