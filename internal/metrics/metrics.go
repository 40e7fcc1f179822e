// Package metrics provides Prometheus instrumentation for the moderation
// services. It exposes counters for analysis throughput and flags, histograms
// for latency and toxicity, and gauges for WebSocket connections.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for AnalysesTotal.
const (
	OutcomeOK          = "ok"
	OutcomeTooLong     = "too_long"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
)

var (
	// AnalysesTotal counts analyze calls, labeled by outcome.
	AnalysesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_analyses_total",
		Help: "Total number of analyze requests",
	}, []string{"outcome"}) // outcome = "ok", "too_long", "rate_limited", "error"

	// FlagsTotal counts emitted flags, labeled by category.
	FlagsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_flags_total",
		Help: "Total number of flags emitted",
	}, []string{"category"})

	// AnalyzeDuration records engine latency in seconds.
	AnalyzeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "moderation_analyze_duration_seconds",
		Help:    "Time spent analyzing one text",
		Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	})

	// OverallToxicity records the distribution of toxicity scores.
	OverallToxicity = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "moderation_overall_toxicity",
		Help:    "Overall toxicity score per analyzed text",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	// CacheLookups counts result cache lookups, labeled "hit", "miss" or "error".
	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_cache_lookups_total",
		Help: "Result cache lookups",
	}, []string{"result"})

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "moderation_rate_limited_total",
		Help: "Requests rejected by rate limiting",
	})

	// WSConnections tracks the current number of WebSocket connections.
	WSConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "moderation_ws_connections",
		Help: "Current number of active WebSocket connections",
	})

	// WSEvictions counts connections closed by the heartbeat, labeled
	// "timeout" or "ping_failed".
	WSEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_ws_evictions_total",
		Help: "WebSocket connections closed by the heartbeat",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		AnalysesTotal,
		FlagsTotal,
		AnalyzeDuration,
		OverallToxicity,
		CacheLookups,
		RateLimited,
		WSConnections,
		WSEvictions,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
