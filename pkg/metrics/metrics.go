package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the delivery-engine metrics.
type Metrics struct {
	AttemptsSent      prometheus.Counter
	AttemptsFailed    prometheus.Counter
	AttemptsExhausted prometheus.Counter
	RoutingFailures   prometheus.Counter

	BatchProcessed prometheus.Counter
	BatchLatency   prometheus.Histogram

	WebhookEvents    *prometheus.CounterVec
	WebhookUnmatched prometheus.Counter

	DatabaseOperations *prometheus.CounterVec
}

// New creates and registers all delivery metrics under the given namespace.
func New(namespace string) *Metrics {
	return &Metrics{
		AttemptsSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_sent_total",
			Help:      "Total number of attempts handed off to the provider",
		}),
		AttemptsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_failed_total",
			Help:      "Total number of failed send attempts",
		}),
		AttemptsExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_exhausted_total",
			Help:      "Total number of attempts that reached failed_final",
		}),
		RoutingFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_failures_total",
			Help:      "Total number of sends aborted with no available region",
		}),
		BatchProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_batches_total",
			Help:      "Total number of retry batches processed",
		}),
		BatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retry_batch_duration_seconds",
			Help:      "Time spent processing one retry batch",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		WebhookEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Total number of provider callbacks ingested",
		}, []string{"kind"}),
		WebhookUnmatched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_unmatched_total",
			Help:      "Total number of callbacks with no matching attempt",
		}),
		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}

// NewUnregistered creates a Metrics value on a private registry, for tests
// and for processes that must not double-register collectors.
func NewUnregistered(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		AttemptsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "attempts_sent_total",
		}),
		AttemptsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "attempts_failed_total",
		}),
		AttemptsExhausted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "attempts_exhausted_total",
		}),
		RoutingFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "routing_failures_total",
		}),
		BatchProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "retry_batches_total",
		}),
		BatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "retry_batch_duration_seconds",
		}),
		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "webhook_events_total",
		}, []string{"kind"}),
		WebhookUnmatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "webhook_events_unmatched_total",
		}),
		DatabaseOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "database_operations_total",
		}, []string{"operation", "status"}),
	}
}
