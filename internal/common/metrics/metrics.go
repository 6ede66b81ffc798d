package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)

// Lead lifecycle metrics.
var (
	// outcome: created, linked, activated, skipped, warning
	LeadConversions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_conversions_total",
			Help: "Lead conversions by college outcome",
		},
		[]string{"outcome"},
	)

	// tier: exact, stripped, substring, none
	CollegeMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "college_match_total",
			Help: "College name lookups by matching tier",
		},
		[]string{"tier"},
	)

	AutomationDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_dispatch_total",
			Help: "Automation deliveries by channel and result",
		},
		[]string{"channel", "result"},
	)

	LeadEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_events_published_total",
			Help: "Post-commit lead events by transport and result",
		},
		[]string{"transport", "result"},
	)
)
