package gate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the decision pipeline.
type Metrics struct {
	Decisions      *prometheus.CounterVec
	Duration       prometheus.Histogram
	IdempotentHits prometheus.Counter
	Deferrals      prometheus.Counter
}

// NewMetrics creates and registers the pipeline metrics on the given
// registerer. Pass prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_decisions_total",
				Help: "Terminal validation decisions by status and reason code",
			},
			[]string{"status", "reason"},
		),
		Duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gate_validate_duration_seconds",
				Help:    "End-to-end latency of the validation pipeline",
				Buckets: prometheus.DefBuckets,
			},
		),
		IdempotentHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gate_idempotent_replays_total",
				Help: "Requests answered verbatim from the idempotency memo",
			},
		),
		Deferrals: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gate_deferred_decisions_total",
				Help: "Decisions routed to the offline queue instead of the durable store",
			},
		),
	}
}
