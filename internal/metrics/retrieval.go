package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Retrieval, admission and export metrics.
var (
	// BackendRequestsTotal counts keyword/vector backend calls. status: ok, error, timeout.
	BackendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Retrieval backend calls by backend, driver and status",
		},
		[]string{"backend", "driver", "status"},
	)

	BackendRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Retrieval backend call duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
		},
		[]string{"backend", "driver"},
	)

	BackendHits = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_hits",
			Help:      "Items returned per backend call",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		},
		[]string{"backend"},
	)

	// RateLimitDecisionsTotal counts limiter outcomes. decision: allowed, rejected, store_error.
	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limiter decisions",
		},
		[]string{"decision"},
	)

	// AuthFailuresTotal counts rejected bearer tokens by internal reason (never exposed to clients).
	AuthFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected bearer tokens by reason",
		},
		[]string{"reason"},
	)

	JWKSRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jwks_refresh_total",
			Help:      "JWKS fetches by status",
		},
		[]string{"status"},
	)

	IngestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Ingested records by kind and status",
		},
		[]string{"kind", "status"},
	)

	ExportRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_rows_total",
			Help:      "Exported rows by kind and format",
		},
		[]string{"kind", "format"},
	)
)

var retrievalOnce sync.Once

// RegisterRetrievalMetrics registers backend, limiter, auth and export metrics. Safe to call more than once.
func RegisterRetrievalMetrics() {
	retrievalOnce.Do(func() {
		prometheus.MustRegister(
			BackendRequestsTotal,
			BackendRequestDuration,
			BackendHits,
			RateLimitDecisionsTotal,
			AuthFailuresTotal,
			JWKSRefreshTotal,
			IngestTotal,
			ExportRowsTotal,
		)
	})
}
