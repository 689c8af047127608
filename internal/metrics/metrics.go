// Package metrics defines the Prometheus collectors for the redirect hot
// path, the click pipeline, caching and the reload control plane.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedirectTotal counts redirect lookups by outcome.
	//
	// Labels:
	//   - outcome: hit, miss, not_found, expired, invalid, error
	RedirectTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlinker_redirect_total",
			Help: "Total redirect requests by outcome",
		},
		[]string{"outcome"},
	)

	// CacheLookupTotal counts composite cache lookups by layer and result.
	CacheLookupTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlinker_cache_lookup_total",
			Help: "Composite cache lookups by layer and result",
		},
		[]string{"layer", "result"},
	)

	// ClickFlushTotal counts click flush runs by trigger and status.
	//
	// Labels:
	//   - trigger: interval, threshold, manual, shutdown
	//   - status: success, failure
	ClickFlushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlinker_click_flush_total",
			Help: "Click buffer flushes by trigger and status",
		},
		[]string{"trigger", "status"},
	)

	// ClickFlushDuration observes end-to-end flush latency.
	ClickFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shortlinker_click_flush_duration_seconds",
			Help:    "Duration of click buffer flushes",
			Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
		},
	)

	// ClickDetailDroppedTotal counts dropped detail events by reason.
	//
	// Labels:
	//   - reason: channel_full
	ClickDetailDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlinker_click_detail_dropped_total",
			Help: "Detailed click events dropped by reason",
		},
		[]string{"reason"},
	)

	// DBQueryDuration observes storage operation latency by operation name.
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shortlinker_db_query_duration_seconds",
			Help:    "Duration of storage operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"operation"},
	)

	// DBRetryTotal counts retry attempts by operation.
	DBRetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlinker_db_retry_total",
			Help: "Storage operation retries by operation",
		},
		[]string{"operation"},
	)

	// ReloadTotal counts reload attempts by target and status.
	ReloadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlinker_reload_total",
			Help: "Reload attempts by target and status",
		},
		[]string{"target", "status"},
	)

	// ReloadDuration observes reload duration by target.
	ReloadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shortlinker_reload_duration_seconds",
			Help:    "Duration of reload operations",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0},
		},
		[]string{"target"},
	)

	// AuthFailuresTotal counts rejected admin API requests.
	AuthFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shortlinker_auth_failures_total",
			Help: "Total authentication failures on the admin API",
		},
	)

	// PanicsRecoveredTotal counts panics recovered at task boundaries.
	PanicsRecoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shortlinker_panics_recovered_total",
			Help: "Panics recovered by the HTTP recovery middleware",
		},
	)
)
