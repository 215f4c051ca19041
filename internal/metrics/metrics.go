// Package metrics provides Prometheus instrumentation for the coffee-chat
// matcher: pool size, join and match throughput, and decision latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JoinsTotal counts join requests by outcome: "matched", "enrolled",
	// "already_matched" or "rejected".
	JoinsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adlib_joins_total",
		Help: "Total number of join requests processed",
	}, []string{"outcome"})

	// MatchesTotal counts committed matches by effective preference.
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adlib_matches_total",
		Help: "Total number of matches created",
	}, []string{"preference"})

	// ClaimConflicts counts candidate claims lost to a concurrent request.
	ClaimConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adlib_claim_conflicts_total",
		Help: "Candidate claims lost to a concurrent join",
	})

	// DecisionLatency records how long one pass of the decision procedure
	// takes over a pool snapshot. Claiming, saving and notifying are not
	// included.
	DecisionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "adlib_decision_latency_seconds",
		Help:    "Join decision latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// WaitDuration records how long a participant waited in the pool before
	// being matched.
	WaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "adlib_wait_duration_seconds",
		Help:    "Time from joining the pool to being matched",
		Buckets: []float64{1, 10, 30, 60, 300, 600, 1800, 3600},
	})

	// PoolSize tracks the number of participants waiting for a match.
	PoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "adlib_pool_size",
		Help: "Current number of participants waiting for a match",
	})

	// ExpiredTotal counts participants removed because their availability ended.
	ExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adlib_expired_total",
		Help: "Participants removed after their availability ended",
	})

	// NotifyFailures counts notifications that could not be delivered.
	NotifyFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adlib_notify_failures_total",
		Help: "Match notifications that failed to deliver",
	})
)

func init() {
	prometheus.MustRegister(
		JoinsTotal,
		MatchesTotal,
		ClaimConflicts,
		DecisionLatency,
		WaitDuration,
		PoolSize,
		ExpiredTotal,
		NotifyFailures,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
