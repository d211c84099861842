package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presentum",
		Subsystem: "engine",
		Name:      "jobs_processed_total",
		Help:      "Jobs executed by the single-writer loop, by kind.",
	}, []string{"kind"})

	guardFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "presentum",
		Subsystem: "engine",
		Name:      "guard_failures_total",
		Help:      "Pipeline runs aborted by a guard error.",
	})

	cancelledRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "presentum",
		Subsystem: "engine",
		Name:      "cancelled_runs_total",
		Help:      "Pipeline runs vetoed via the cancel intention.",
	})

	transitionsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "presentum",
		Subsystem: "engine",
		Name:      "transitions_published_total",
		Help:      "State transitions published to observers.",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "presentum",
		Subsystem: "engine",
		Name:      "queue_depth",
		Help:      "Jobs waiting in the transaction queue.",
	})

	pipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "presentum",
		Subsystem: "engine",
		Name:      "pipeline_duration_seconds",
		Help:      "Guard pipeline execution time per run.",
		Buckets:   prometheus.DefBuckets,
	})
)
