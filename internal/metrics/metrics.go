// Package metrics holds Prometheus instruments for the order workflow.
//
// Every method is safe on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the order workflow.
type Metrics struct {
	// Availability checks by TLD and outcome (ok, error, cached).
	OracleChecks  *prometheus.CounterVec
	OracleLatency *prometheus.HistogramVec

	// Committed order transitions.
	Transitions *prometheus.CounterVec

	// Payment webhook outcomes (processed, duplicate, failed_payment, ignored).
	PaymentEvents *prometheus.CounterVec

	// External provider calls by provider, operation and result.
	ProviderCalls   *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec

	// Provisioning request completions by type and final status.
	Provisioning *prometheus.CounterVec

	// Notifications by event type and result (sent, failed, skipped).
	Notifications *prometheus.CounterVec
}

// New registers all workflow metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OracleChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "domainshop_availability_checks_total",
			Help: "Availability checks by TLD and outcome",
		}, []string{"tld", "outcome"}),

		OracleLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "domainshop_availability_check_duration_seconds",
			Help:    "Duration of a single-TLD availability check",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"tld"}),

		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "domainshop_order_transitions_total",
			Help: "Committed order status transitions",
		}, []string{"from", "to"}),

		PaymentEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "domainshop_payment_events_total",
			Help: "Payment webhook deliveries by result",
		}, []string{"result"}),

		ProviderCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "domainshop_provider_calls_total",
			Help: "External provider calls by provider, operation and result",
		}, []string{"provider", "operation", "result"}),

		ProviderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "domainshop_provider_call_duration_seconds",
			Help:    "Duration of external provider calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider", "operation"}),

		Provisioning: f.NewCounterVec(prometheus.CounterOpts{
			Name: "domainshop_provisioning_requests_total",
			Help: "Provisioning requests reaching a terminal status",
		}, []string{"type", "status"}),

		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "domainshop_notifications_total",
			Help: "Notification deliveries by event type and result",
		}, []string{"event", "result"}),
	}
}

// ObserveOracleCheck records one availability check.
func (m *Metrics) ObserveOracleCheck(tld, outcome string, d time.Duration) {
	if m != nil {
		m.OracleChecks.WithLabelValues(tld, outcome).Inc()
		m.OracleLatency.WithLabelValues(tld).Observe(d.Seconds())
	}
}

// IncTransition records a committed status change.
func (m *Metrics) IncTransition(from, to string) {
	if m != nil {
		m.Transitions.WithLabelValues(from, to).Inc()
	}
}

// IncPaymentEvent records a webhook delivery result.
func (m *Metrics) IncPaymentEvent(result string) {
	if m != nil {
		m.PaymentEvents.WithLabelValues(result).Inc()
	}
}

// ObserveProviderCall records an external call.
func (m *Metrics) ObserveProviderCall(provider, operation string, err error, d time.Duration) {
	if m != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		m.ProviderCalls.WithLabelValues(provider, operation, result).Inc()
		m.ProviderLatency.WithLabelValues(provider, operation).Observe(d.Seconds())
	}
}

// IncProvisioning records a provisioning request reaching a terminal status.
func (m *Metrics) IncProvisioning(requestType, status string) {
	if m != nil {
		m.Provisioning.WithLabelValues(requestType, status).Inc()
	}
}

// IncNotification records a notification result.
func (m *Metrics) IncNotification(event, result string) {
	if m != nil {
		m.Notifications.WithLabelValues(event, result).Inc()
	}
}
