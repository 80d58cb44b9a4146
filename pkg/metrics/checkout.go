package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics records checkout commit outcomes.
type CheckoutMetrics struct {
	duration  *prometheus.HistogramVec
	placed    prometheus.Counter
	conflicts *prometheus.CounterVec
}

// NewCheckoutMetrics registers the checkout metrics on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_commit_duration_seconds",
		Help:    "Duration of checkout commit attempts in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	placed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "checkout_orders_placed_total",
		Help: "Orders successfully placed.",
	})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_commit_conflicts_total",
		Help: "Checkout commits rejected before placing an order.",
	}, []string{"reason"})
	reg.MustRegister(duration, placed, conflicts)
	return &CheckoutMetrics{
		duration:  duration,
		placed:    placed,
		conflicts: conflicts,
	}
}

// ObserveCommit records the duration of a commit attempt with its outcome.
func (c *CheckoutMetrics) ObserveCommit(outcome string, duration time.Duration) {
	if c == nil || c.duration == nil {
		return
	}
	c.duration.WithLabelValues(normalizeLabel(outcome)).Observe(duration.Seconds())
}

// IncPlaced increments the placed-orders counter.
func (c *CheckoutMetrics) IncPlaced() {
	if c == nil || c.placed == nil {
		return
	}
	c.placed.Inc()
}

// IncConflict increments the conflict counter for the given rejection reason.
func (c *CheckoutMetrics) IncConflict(reason string) {
	if c == nil || c.conflicts == nil {
		return
	}
	c.conflicts.WithLabelValues(normalizeLabel(reason)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
