// Package metrics holds the prometheus collectors shared by the gateway, pipeline and cache.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Provider metrics
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lws_provider_requests_total",
			Help: "Total number of provider calls by capability, provider and outcome",
		},
		[]string{"capability", "provider", "outcome"},
	)

	ProviderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lws_provider_request_duration_seconds",
			Help:    "Provider call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"capability", "provider"},
	)

	ProviderFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lws_provider_fallbacks_total",
			Help: "Total number of fallback attempts after a primary failure",
		},
		[]string{"capability"},
	)

	// Turn metrics
	TurnsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lws_turns_total",
			Help: "Total number of turns by final status",
		},
		[]string{"status"},
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lws_turn_duration_seconds",
			Help:    "Turn duration from submission to final status",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	SourcesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lws_sources_processed_total",
			Help: "Total number of processed search results by kind and terminal status",
		},
		[]string{"kind", "status"},
	)

	// Cache metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lws_cache_lookups_total",
			Help: "Page cache lookups by backend and result",
		},
		[]string{"backend", "result"},
	)
)

// ObserveProvider records one provider call.
func ObserveProvider(capability, provider, outcome string, started time.Time) {
	ProviderRequests.WithLabelValues(capability, provider, outcome).Inc()
	ProviderDuration.WithLabelValues(capability, provider).Observe(time.Since(started).Seconds())
}
