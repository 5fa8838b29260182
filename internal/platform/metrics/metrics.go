// Package metrics defines the Prometheus instruments for the control loops.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for monitoring pump and guardian health
var (
	PumpTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pump_ticks_total",
			Help: "Total number of pump drain ticks",
		},
	)

	PumpTicksSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pump_ticks_skipped_total",
			Help: "Total number of pump ticks skipped because a prior tick was still in flight",
		},
	)

	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_attempts_total",
			Help: "Total number of delivery attempts by result",
		},
		[]string{"result"},
	)

	DeliveriesDeadLetteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deliveries_dead_lettered_total",
			Help: "Total number of deliveries moved to the dead-letter queue",
		},
	)

	DeliveryAttemptDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_attempt_duration_seconds",
			Help:    "Duration of delivery attempts",
			Buckets: prometheus.DefBuckets,
		},
	)

	GuardianActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_actions_total",
			Help: "Total number of guardian remediation actions by kind and result",
		},
		[]string{"kind", "result"},
	)

	GuardianActionsSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "guardian_actions_skipped_total",
			Help: "Total number of guardian actions skipped by cooldown",
		},
	)
)

// Register registers all Prometheus metrics
func Register() {
	prometheus.MustRegister(PumpTicksTotal)
	prometheus.MustRegister(PumpTicksSkippedTotal)
	prometheus.MustRegister(DeliveryAttemptsTotal)
	prometheus.MustRegister(DeliveriesDeadLetteredTotal)
	prometheus.MustRegister(DeliveryAttemptDuration)
	prometheus.MustRegister(GuardianActionsTotal)
	prometheus.MustRegister(GuardianActionsSkippedTotal)
}
