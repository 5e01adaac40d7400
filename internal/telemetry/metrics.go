package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks end-to-end request latency per route and
	// outcome (ok, validation_rejected, rate_limited, upstream_error).
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pxp_request_duration_seconds",
			Help:    "End-to-end request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "outcome"},
	)

	// RequestErrors counts failed requests by route and error fingerprint
	// so recurring failures group without full-text log search.
	RequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pxp_request_errors_total",
			Help: "Total failed requests by route and error fingerprint",
		},
		[]string{"route", "fingerprint"},
	)

	// RateLimitRejects counts 429s per route class.
	RateLimitRejects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pxp_rate_limit_rejects_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"route_class"},
	)

	// ProviderRequests counts upstream chat calls per provider and result
	// (success, retryable, permanent, timeout).
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pxp_chat_provider_requests_total",
			Help: "Chat completion attempts by provider and result",
		},
		[]string{"provider", "result"},
	)

	// ChatTokens counts upstream-reported token usage.
	ChatTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pxp_chat_tokens_total",
			Help: "Token usage reported by chat providers",
		},
		[]string{"provider", "kind"},
	)

	// SearchResults tracks result-count distribution per strategy
	// (primary, fallback, cache).
	SearchResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pxp_search_results",
			Help:    "Number of results returned per search",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
		[]string{"strategy"},
	)

	// CacheLookups counts search cache hits and misses.
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pxp_search_cache_lookups_total",
			Help: "Search cache lookups by result",
		},
		[]string{"result"},
	)

	// MonitoringEvents counts ingested client telemetry events by type.
	MonitoringEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pxp_monitoring_events_total",
			Help: "Client telemetry events ingested by type",
		},
		[]string{"type"},
	)
)
