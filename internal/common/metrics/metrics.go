// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for resolution metrics.
const (
	OutcomeMatched   = "matched"
	OutcomeNoMatch   = "no_match"
	OutcomeAmbiguous = "ambiguous"
	OutcomeError     = "error"
)

var (
	IntentResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intent_resolutions_total",
			Help: "Total number of resolution calls by winning intent and outcome",
		},
		[]string{"intent", "outcome"},
	)

	SolverTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intent_solver_timeouts_total",
			Help: "Number of template/variant searches that exceeded the step budget",
		},
		[]string{"intent"},
	)

	ResolutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intent_resolution_duration_seconds",
			Help:    "Duration of a resolution call in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"outcome"},
	)

	ConversationSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "intent_conversation_sessions_active",
			Help: "Conversation sessions currently holding state in this process",
		},
	)

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
)
