package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for cpdispatch.
// Using promauto for automatic registration with default registry.
var (
	// --- Job Metrics ---

	// JobsRunning tracks subprocesses currently alive on this host.
	JobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cpdispatch",
			Subsystem: "jobs",
			Name:      "running",
			Help:      "Number of job subprocesses currently running",
		},
	)

	// JobOutcomesTotal counts terminated jobs by result.
	JobOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cpdispatch",
			Subsystem: "jobs",
			Name:      "outcomes_total",
			Help:      "Total number of terminated jobs by result",
		},
		[]string{"run_name", "result"},
	)

	// JobDuration tracks subprocess wall time. Analysis runs are long.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cpdispatch",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Duration of job subprocesses in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 18), // 0.1s to ~7h
		},
		[]string{"run_name", "result"},
	)

	// LaunchFailures counts jobs whose program could not be started.
	LaunchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cpdispatch",
			Subsystem: "jobs",
			Name:      "launch_failures_total",
			Help:      "Total number of jobs that failed to launch",
		},
	)

	// --- Batch Metrics ---

	// BatchesTotal counts processed batches by final run status.
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cpdispatch",
			Subsystem: "batches",
			Name:      "total",
			Help:      "Total number of processed batches by run status",
		},
		[]string{"status"},
	)

	// PoolSize records the worker count chosen for the latest batch.
	PoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cpdispatch",
			Subsystem: "batches",
			Name:      "pool_size",
			Help:      "Worker pool size used for the most recent batch",
		},
	)

	// --- Run Log Metrics ---

	// LogsWritten counts per-job run log files written.
	LogsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cpdispatch",
			Subsystem: "runlogs",
			Name:      "written_total",
			Help:      "Total number of run log files written",
		},
	)

	// --- Queue Metrics ---

	// BatchesEnqueued counts batches pushed to the executor queue.
	BatchesEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cpdispatch",
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Total number of batches pushed to the executor queue",
		},
		[]string{"source"},
	)
)

// RecordOutcome records metrics for a terminated job.
func RecordOutcome(runName string, failed bool, durationSeconds float64) {
	result := "success"
	if failed {
		result = "failure"
	}
	JobOutcomesTotal.WithLabelValues(runName, result).Inc()
	JobDuration.WithLabelValues(runName, result).Observe(durationSeconds)
}
