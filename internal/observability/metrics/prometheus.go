// Package metrics provides Prometheus metrics for the fulfillment engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all engine metrics. A nil *Metrics is valid and records
// nothing, so components can run unmetered in tests.
type Metrics struct {
	OrdersAssigned        prometheus.Counter
	AssignmentFailures    prometheus.Counter
	OrdersDelivered       prometheus.Counter
	DeliveryFailures      prometheus.Counter
	SLABreaches           *prometheus.CounterVec
	RefillOrdersCreated   prometheus.Counter
	NotificationsEnqueued prometheus.Counter
	NotificationsDropped  prometheus.Counter
}

// New creates the metric set without registering it.
func New() *Metrics {
	return &Metrics{
		OrdersAssigned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fulfillment_orders_assigned_total",
			Help: "Orders successfully assigned to a pharmacy",
		}),
		AssignmentFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fulfillment_assignment_failures_total",
			Help: "Assignment attempts that found no eligible pharmacy",
		}),
		OrdersDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fulfillment_orders_delivered_total",
			Help: "Orders confirmed delivered with a valid OTP",
		}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fulfillment_delivery_failures_total",
			Help: "Orders that reached the terminal delivery-failed status",
		}),
		SLABreaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_sla_breaches_total",
			Help: "SLA breaches recorded, by breach type",
		}, []string{"type"}),
		RefillOrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fulfillment_refill_orders_total",
			Help: "Orders created by the refill scheduler",
		}),
		NotificationsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fulfillment_notifications_enqueued_total",
			Help: "Notifications accepted into the outbound queue",
		}),
		NotificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fulfillment_notifications_dropped_total",
			Help: "Notifications dropped because the outbound queue was full",
		}),
	}
}

// MustRegister registers the set with the default registry and returns it.
func MustRegister() *Metrics {
	m := New()
	prometheus.MustRegister(
		m.OrdersAssigned,
		m.AssignmentFailures,
		m.OrdersDelivered,
		m.DeliveryFailures,
		m.SLABreaches,
		m.RefillOrdersCreated,
		m.NotificationsEnqueued,
		m.NotificationsDropped,
	)
	return m
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncAssigned counts a successful assignment.
func (m *Metrics) IncAssigned() {
	if m != nil {
		m.OrdersAssigned.Inc()
	}
}

// IncAssignmentFailed counts a no-eligible-pharmacy outcome.
func (m *Metrics) IncAssignmentFailed() {
	if m != nil {
		m.AssignmentFailures.Inc()
	}
}

// IncDelivered counts a confirmed delivery.
func (m *Metrics) IncDelivered() {
	if m != nil {
		m.OrdersDelivered.Inc()
	}
}

// IncDeliveryFailed counts a terminal delivery failure.
func (m *Metrics) IncDeliveryFailed() {
	if m != nil {
		m.DeliveryFailures.Inc()
	}
}

// IncBreach counts a newly recorded SLA breach.
func (m *Metrics) IncBreach(breachType string) {
	if m != nil {
		m.SLABreaches.WithLabelValues(breachType).Inc()
	}
}

// IncRefill counts an order created by the refill scheduler.
func (m *Metrics) IncRefill() {
	if m != nil {
		m.RefillOrdersCreated.Inc()
	}
}

// IncEnqueued counts a notification accepted into the outbound queue.
func (m *Metrics) IncEnqueued() {
	if m != nil {
		m.NotificationsEnqueued.Inc()
	}
}

// IncDropped counts a dropped notification.
func (m *Metrics) IncDropped() {
	if m != nil {
		m.NotificationsDropped.Inc()
	}
}
