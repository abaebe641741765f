// Package metrics defines the Prometheus metrics exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ThrottleDecisions counts admission decisions by outcome (allowed, denied).
	ThrottleDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_throttle_decisions_total",
		Help: "Admission decisions by outcome",
	}, []string{"outcome"})

	// ThrottleEntries tracks live rate-limit entries.
	ThrottleEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "assistant_throttle_entries",
		Help: "Number of live rate-limit entries",
	})

	// BackoffAttempts counts upstream attempts by result (success, retry, gave_up, fatal).
	BackoffAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_backoff_attempts_total",
		Help: "Upstream call attempts by result",
	}, []string{"result"})

	// BackoffWait observes the delay before each retry.
	BackoffWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "assistant_backoff_wait_seconds",
		Help:    "Delay before a retry attempt",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to 64s
	})

	// RetrievedArticles observes the retrieved-set size per query.
	RetrievedArticles = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assistant_retrieved_articles",
		Help:    "Articles retrieved per query by disposition",
		Buckets: []float64{0, 1, 2, 3, 4, 5},
	}, []string{"disposition"})

	// StreamChunks counts parsed stream chunks by kind.
	StreamChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_stream_chunks_total",
		Help: "Parsed stream chunks by kind",
	}, []string{"kind"})

	// SendOutcomes counts completed sends by outcome.
	SendOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_send_outcomes_total",
		Help: "Message sends by outcome",
	}, []string{"outcome"})

	// KnowledgeBaseCache counts article cache lookups by result (hit, miss).
	KnowledgeBaseCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_kb_cache_lookups_total",
		Help: "Knowledge-base article cache lookups by result",
	}, []string{"result"})
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
