package buffer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	flushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analytics_buffer_flushes_total",
		Help: "Total number of per-workspace buffer flushes.",
	}, []string{"workspace_id", "result"})

	flushLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "analytics_buffer_flush_duration_seconds",
		Help:    "Time taken to bulk insert one workspace's flushed events.",
		Buckets: prometheus.DefBuckets,
	}, []string{"workspace_id"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "analytics_buffer_queue_depth",
		Help: "Current in-memory queue depth per workspace.",
	}, []string{"workspace_id"})
)
