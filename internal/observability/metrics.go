// Package observability supplies the prometheus metrics and otel tracer
// provider shared across the ingest and backfill components, all under the
// service's "analytics_" namespace.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngested counts enriched events handed to the buffer, labeled by
	// workspace and event name (screen_view/goal).
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analytics_ingest_events_total",
		Help: "Total number of events produced by the session payload handler.",
	}, []string{"workspace_id", "name"})

	// PayloadsRejected counts payloads that failed validation before
	// reaching the buffer (bad action, unknown workspace).
	PayloadsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analytics_ingest_payloads_rejected_total",
		Help: "Total number of session payloads rejected without buffering.",
	}, []string{"reason"})

	// FilterEvalDuration times one Evaluator.Apply call against a single
	// event during live ingest.
	FilterEvalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "analytics_filter_eval_duration_seconds",
		Help:    "Time taken to evaluate a workspace's filters against one event.",
		Buckets: prometheus.DefBuckets,
	})

	// BackfillMutationDuration times one ALTER ... UPDATE mutation issued by
	// the backfill processor, labeled by table.
	BackfillMutationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "analytics_backfill_mutation_duration_seconds",
		Help:    "Time taken for one partition mutation to complete.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"table"})

	// BackfillChunksProcessed counts chunks the processor has completed,
	// labeled by workspace.
	BackfillChunksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analytics_backfill_chunks_processed_total",
		Help: "Total number of date chunks processed by the backfill processor.",
	}, []string{"workspace_id"})

	// BackfillTasksTotal counts task terminal transitions, labeled by the
	// status reached.
	BackfillTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analytics_backfill_tasks_total",
		Help: "Total number of backfill tasks reaching a terminal status.",
	}, []string{"status"})
)
