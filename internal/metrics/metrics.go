// Package metrics provides Prometheus metrics for the award service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AwardsTotal counts award requests by mode and result
var AwardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "focus",
	Name:      "awards_total",
	Help:      "Award requests by focus mode and result.",
}, []string{"mode", "result"})

// XPAwardedTotal counts XP granted by mode
var XPAwardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "focus",
	Name:      "xp_awarded_total",
	Help:      "Total XP granted.",
}, []string{"mode"})

// LevelUpsTotal counts awards that changed the user's level
var LevelUpsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "focus",
	Name:      "level_ups_total",
	Help:      "Awards that moved a user to a new level.",
})

// StreakTransitionsTotal counts streak transitions by kind
var StreakTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "focus",
	Name:      "streak_transitions_total",
	Help:      "Streak transitions caused by qualifying sessions.",
}, []string{"transition"})

// AwardLatency tracks the duration of the locked read-compute-write
var AwardLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "focus",
	Name:      "award_latency_seconds",
	Help:      "Duration of award transactions in seconds.",
	Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
})

// StreamSubscribers tracks open profile stream connections
var StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "focus",
	Name:      "stream_subscribers",
	Help:      "Open profile stream connections.",
})

// AwardsPrunedTotal counts ledger rows removed by the cleanup worker
var AwardsPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "focus",
	Name:      "awards_pruned_total",
	Help:      "Award ledger rows removed by retention cleanup.",
})

// HTTPRequestDuration tracks request latency by route pattern and status
var HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "focus",
	Name:      "http_request_duration_seconds",
	Help:      "HTTP request latency in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"method", "route", "status"})
