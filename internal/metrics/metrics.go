package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RLRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limiter_requests_total",
			Help: "Total requests admitted by the rate limiter",
		},
		[]string{"scope"},
	)
	RLBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limiter_blocked_total",
			Help: "Total requests blocked by the rate limiter",
		},
		[]string{"scope"},
	)

	Events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "points_events_total",
			Help: "Earn events by type and outcome (accepted or rejection reason)",
		},
		[]string{"type", "outcome"},
	)
	Awarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "points_awarded_total",
			Help: "Sum of accepted point amounts by type",
		},
		[]string{"type"},
	)

	RollupRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollup_runs_total",
			Help: "Rollup bucket recomputations by scope and status",
		},
		[]string{"scope", "status"},
	)
	RollupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rollup_duration_seconds",
			Help:    "Duration of a full rollup pass",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scope"},
	)
	RollupCoalesced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rollup_signals_coalesced_total",
			Help: "Rollup signals dropped because a run was already queued",
		},
	)

	SchedulerJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_jobs_total",
			Help: "Scheduler job executions by job and status",
		},
		[]string{"job", "status"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		RLRequests,
		RLBlocked,
		Events,
		Awarded,
		RollupRuns,
		RollupDuration,
		RollupCoalesced,
		SchedulerJobs,
		HTTPRequests,
	)
}
