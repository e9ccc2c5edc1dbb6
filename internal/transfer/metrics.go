package transfer

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeCopied = "copied"
	outcomeReused = "reused"
	outcomeFailed = "failed"
)

var (
	transferPrometheusMetrics sync.Once

	transferOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "treesync",
			Subsystem: "transfer",
			Name:      "operations_total",
			Help:      "Number of blob transfers, by outcome.",
		},
		[]string{"outcome"})

	transferOperationsDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "treesync",
			Subsystem: "transfer",
			Name:      "operations_duration_seconds",
			Help:      "Amount of time spent per blob transfer, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.0, 18),
		},
		[]string{"outcome"})

	transferCopiedBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "treesync",
			Subsystem: "transfer",
			Name:      "copied_bytes_total",
			Help:      "Number of blob bytes uploaded to the target.",
		})

	transferRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "treesync",
			Subsystem: "transfer",
			Name:      "retries_total",
			Help:      "Number of transfer attempts retried after a transient error.",
		})
)

func registerMetrics() {
	transferPrometheusMetrics.Do(func() {
		prometheus.MustRegister(transferOperationsTotal)
		prometheus.MustRegister(transferOperationsDurationSeconds)
		prometheus.MustRegister(transferCopiedBytesTotal)
		prometheus.MustRegister(transferRetriesTotal)
	})
}
