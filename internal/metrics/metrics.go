// Package metrics exposes the daemon's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stemfuse_jobs_enqueued_total",
			Help: "Total number of fusion jobs enqueued",
		},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stemfuse_jobs_completed_total",
			Help: "Total number of jobs reaching a terminal state",
		},
		[]string{"state"}, // succeeded, failed
	)

	StageExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stemfuse_stage_executions_total",
			Help: "Total number of stage executions by outcome",
		},
		[]string{"stage", "outcome"}, // succeeded, failed, retried, timed_out
	)

	TasksRedeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stemfuse_tasks_redelivered_total",
			Help: "Total number of stage tasks redelivered after a failure or stale claim",
		},
		[]string{"stage"},
	)

	TasksDeadLetteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stemfuse_tasks_dead_lettered_total",
			Help: "Total number of stage tasks parked after exhausting the delivery budget",
		},
		[]string{"stage"},
	)

	ScratchSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stemfuse_scratch_swept_total",
			Help: "Total number of scratch directories reclaimed by the janitor",
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stemfuse_queue_depth",
			Help: "Current number of waiting tasks per stage queue",
		},
		[]string{"stage"},
	)

	StageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stemfuse_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~13min
		},
		[]string{"stage"},
	)
)
