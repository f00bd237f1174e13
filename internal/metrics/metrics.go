// Package metrics holds the node's prometheus collectors, registered on the
// default registry and served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ---------------------------------------------------------------------------
	// Scheduler
	// ---------------------------------------------------------------------------

	SchedulerTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_scheduler_ticks_total",
			Help: "Scheduler ticks by outcome (run, skipped, error)",
		},
		[]string{"outcome"},
	)

	PredictionsDue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oracle_predictions_due",
		Help: "Due predictions found on the last tick",
	})

	// ---------------------------------------------------------------------------
	// Execution
	// ---------------------------------------------------------------------------

	Executions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_executions_total",
			Help: "Prediction executions by outcome (executed, failed)",
		},
		[]string{"outcome"},
	)

	ExecutionStepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_execution_step_failures_total",
			Help: "Execution failures by pipeline step",
		},
		[]string{"step"},
	)

	ExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oracle_execution_duration_seconds",
		Help:    "End-to-end prediction execution duration",
		Buckets: prometheus.DefBuckets,
	})

	// ---------------------------------------------------------------------------
	// Evidence
	// ---------------------------------------------------------------------------

	EvidenceFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_evidence_fetches_total",
			Help: "Per-account evidence fetches by outcome (ok, error)",
		},
		[]string{"outcome"},
	)

	EvidenceResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_evidence_results_total",
			Help: "Gather results by kind (items, placeholder, error)",
		},
		[]string{"kind"},
	)

	// ---------------------------------------------------------------------------
	// Oracle
	// ---------------------------------------------------------------------------

	OracleCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_judgment_calls_total",
			Help: "Judgment calls by role and outcome",
		},
		[]string{"role", "outcome"},
	)

	OracleLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oracle_judgment_latency_seconds",
			Help:    "Judgment call latency",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"role"},
	)

	// ---------------------------------------------------------------------------
	// Validation
	// ---------------------------------------------------------------------------

	ValidationVotes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_validation_votes_total",
			Help: "Validation votes by outcome (approved, rejected, error)",
		},
		[]string{"outcome"},
	)

	// ---------------------------------------------------------------------------
	// Tasks
	// ---------------------------------------------------------------------------

	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_tasks_submitted_total",
			Help: "Task submissions by transport and outcome",
		},
		[]string{"transport", "outcome"},
	)

	TasksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_tasks_received_total",
			Help: "Tasks consumed by the validator by transport",
		},
		[]string{"transport"},
	)
)
