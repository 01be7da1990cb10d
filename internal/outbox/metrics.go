package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the outbox poller.
type Metrics struct {
	PendingCount       prometheus.Gauge
	ProcessedTotal     prometheus.Counter
	DispatchErrorsTotal prometheus.Counter
	CircuitSkippedTotal prometheus.Counter
	ProcessingDuration prometheus.Histogram
	BatchSize          prometheus.Histogram
	DLQTotal           prometheus.Counter
}

// NewMetrics creates and registers all outbox metrics under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "outbox"
	}

	return &Metrics{
		PendingCount: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_count",
			Help:      "Number of unprocessed events claimed in the most recent poll iteration",
		}),

		ProcessedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processed_total",
			Help:      "Total number of successfully processed outbox events",
		}),

		DispatchErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_errors_total",
			Help:      "Total number of dispatch failures (excluding circuit-open skips)",
		}),

		CircuitSkippedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_skipped_total",
			Help:      "Total number of rows skipped because a dependency's circuit breaker was open",
		}),

		ProcessingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_duration_seconds",
			Help:      "Time spent processing a batch of events",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of events claimed in each poll iteration",
			Buckets:   []float64{1, 5, 10, 25, 50, 100},
		}),

		DLQTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_lettered_total",
			Help:      "Total number of events dead-lettered after reaching retry_max_attempts",
		}),
	}
}

// DefaultMetrics is the metrics instance used by the default processor.
var DefaultMetrics = NewMetrics("outbox")
