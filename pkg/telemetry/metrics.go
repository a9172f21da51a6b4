// Package telemetry provides Prometheus metrics for the service.
// Metrics cover the webhook receiver, the job queues, and the review pipeline.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEventsTotal counts normalized webhook events by type and outcome.
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grepiku",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Number of webhook events received, by type and outcome.",
	}, []string{"type", "outcome"})

	// JobsEnqueuedTotal counts jobs enqueued per queue.
	JobsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grepiku",
		Subsystem: "queue",
		Name:      "jobs_enqueued_total",
		Help:      "Number of jobs enqueued, by queue.",
	}, []string{"queue"})

	// JobsCompletedTotal counts jobs completed per queue and status.
	JobsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grepiku",
		Subsystem: "queue",
		Name:      "jobs_completed_total",
		Help:      "Number of jobs completed, by queue and status.",
	}, []string{"queue", "status"})

	// QueueDepth tracks the number of pending jobs per queue.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "grepiku",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Number of pending jobs per queue.",
	}, []string{"queue"})

	// ReviewRunDuration observes end-to-end review run duration in seconds.
	ReviewRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "grepiku",
		Subsystem: "review",
		Name:      "run_duration_seconds",
		Help:      "End-to-end review run duration.",
		Buckets:   prometheus.ExponentialBuckets(5, 2, 10),
	}, []string{"status"})

	// StageDuration observes per-stage LLM execution duration in seconds.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "grepiku",
		Subsystem: "review",
		Name:      "stage_duration_seconds",
		Help:      "Per-stage execution duration.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"stage", "status"})

	// FindingsTotal counts reconciled findings by lifecycle outcome.
	FindingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grepiku",
		Subsystem: "review",
		Name:      "findings_total",
		Help:      "Findings reconciled per run, by outcome.",
	}, []string{"outcome"})

	// IndexedFilesTotal counts files processed by the indexer.
	IndexedFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grepiku",
		Subsystem: "index",
		Name:      "files_total",
		Help:      "Files processed by the indexer, by outcome.",
	}, []string{"outcome"})
)
