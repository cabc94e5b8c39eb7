package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsScheduled is a counter for jobs scheduled.
	JobsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postagent_jobs_scheduled_total",
			Help: "The total number of jobs scheduled.",
		},
		[]string{"job_type"},
	)

	// JobsCompleted is a counter for jobs completed successfully.
	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postagent_jobs_completed_total",
			Help: "The total number of jobs completed successfully.",
		},
		[]string{"job_type"},
	)

	// JobsFailed is a counter for jobs that failed.
	JobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postagent_jobs_failed_total",
			Help: "The total number of jobs that failed.",
		},
		[]string{"job_type"},
	)

	// JobRetries is a counter for job retries.
	JobRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postagent_job_retries_total",
			Help: "The total number of times a job has been retried.",
		},
		[]string{"job_type"},
	)

	// JobDuration is a histogram of the time it takes to execute a job.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "postagent_job_duration_seconds",
			Help:    "A histogram of the job execution duration.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		},
		[]string{"job_type"},
	)

	// JobsInFlight is a gauge that shows the number of currently running jobs.
	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "postagent_jobs_in_flight",
			Help: "The number of jobs currently being executed.",
		},
	)

	// LoginAttempts counts completed login attempts by outcome.
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postagent_login_attempts_total",
			Help: "The total number of login callbacks, by result.",
		},
		[]string{"result"},
	)

	// TokenRefreshes counts refresh exchanges by outcome.
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postagent_token_refreshes_total",
			Help: "The total number of refresh token exchanges, by result.",
		},
		[]string{"result"},
	)

	// AuthenticatedCalls counts calls made through the authenticated wrapper
	// by final state.
	AuthenticatedCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postagent_authenticated_calls_total",
			Help: "The total number of authenticated platform calls, by final state.",
		},
		[]string{"state"},
	)

	// Posts counts publish attempts by source and outcome.
	Posts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postagent_posts_total",
			Help: "The total number of publish attempts, by source and result.",
		},
		[]string{"source", "result"},
	)

	// UpstreamDuration is a histogram of platform request latency.
	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "postagent_upstream_request_duration_seconds",
			Help:    "A histogram of outbound platform request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)
