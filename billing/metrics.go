package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the billing engine
type Metrics struct {
	InvoicesGenerated *prometheus.CounterVec
	InvoicedAmount    *prometheus.CounterVec
	PaymentAttempts   *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec
	StatusChanges     *prometheus.CounterVec
	BatchRuns         *prometheus.CounterVec
	BatchDuration     *prometheus.HistogramVec
	LockContention    prometheus.Counter
}

// NewMetrics creates and registers all billing metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		InvoicesGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stylo_invoices_generated_total",
				Help: "Total number of invoices generated",
			},
			[]string{"prorated"},
		),
		InvoicedAmount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stylo_invoiced_amount_total",
				Help: "Sum of generated invoice totals in major currency units",
			},
			[]string{"currency"},
		),
		PaymentAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stylo_payment_attempts_total",
				Help: "Total number of payment attempts by method type and outcome",
			},
			[]string{"method", "outcome"},
		),
		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stylo_events_published_total",
				Help: "Total number of billing events handed to the producer",
			},
			[]string{"type", "outcome"},
		),
		StatusChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stylo_subscription_status_changes_total",
				Help: "Total number of business subscription status transitions",
			},
			[]string{"to"},
		),
		BatchRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stylo_batch_items_total",
				Help: "Outcome of each business handled by a batch job",
			},
			[]string{"job", "outcome"},
		),
		BatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stylo_batch_duration_seconds",
				Help:    "Batch job duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 4, 8),
			},
			[]string{"job"},
		),
		LockContention: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "stylo_business_lock_contention_total",
				Help: "Total number of times a per business lock could not be obtained",
			},
		),
	}
}
