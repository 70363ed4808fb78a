package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the payments gateway.
type Metrics struct {
	// Payment lifecycle metrics
	PaymentsInitiatedTotal *prometheus.CounterVec
	PaymentsSucceededTotal *prometheus.CounterVec
	PaymentsFailedTotal    *prometheus.CounterVec
	PaymentAmountTotal     *prometheus.CounterVec

	// Refund metrics
	RefundsTotal      *prometheus.CounterVec
	RefundAmountTotal *prometheus.CounterVec

	// Upstream processor metrics
	UpstreamCallsTotal   *prometheus.CounterVec
	UpstreamCallDuration *prometheus.HistogramVec

	// Inbound webhook metrics
	InboundWebhooksTotal *prometheus.CounterVec

	// Outbound webhook metrics
	WebhookDeliveriesTotal *prometheus.CounterVec
	WebhookAttemptsTotal   *prometheus.CounterVec
	WebhookDuration        *prometheus.HistogramVec

	// Auth and rate limiting metrics
	AuthFailuresTotal  *prometheus.CounterVec
	RateLimitHitsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		PaymentsInitiatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acoruss_payments_initiated_total",
				Help: "Total number of payment initiation attempts",
			},
			[]string{"currency"},
		),
		PaymentsSucceededTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acoruss_payments_succeeded_total",
				Help: "Total number of payments that reached the success state",
			},
			[]string{"currency", "channel"},
		),
		PaymentsFailedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acoruss_payments_failed_total",
				Help: "Total number of payments that reached failed or abandoned states",
			},
			[]string{"currency", "status"},
		),
		PaymentAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acoruss_payment_amount_minor_total",
				Help: "Total successful payment volume in minor currency units",
			},
			[]string{"currency"},
		),

		RefundsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acoruss_refunds_total",
				Help: "Total number of refund requests",
			},
			[]string{"status"},
		),
		RefundAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acoruss_refund_amount_minor_total",
				Help: "Total refunded volume in minor currency units",
			},
			[]string{"currency"},
		),

		UpstreamCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acoruss_upstream_calls_total",
				Help: "Total number of calls to the upstream processor",
			},
			[]string{"endpoint", "outcome"},
		),
		UpstreamCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "acoruss_upstream_call_duration_seconds",
				Help:    "Duration of upstream processor calls (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint"},
		),

		InboundWebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acoruss_inbound_webhooks_total",
				Help: "Total number of inbound processor webhooks by event and outcome",
			},
			[]string{"event", "outcome"},
		),

		WebhookDeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acoruss_webhook_deliveries_total",
				Help: "Total number of outbound webhook delivery sequences",
			},
			[]string{"event", "status"},
		),
		WebhookAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acoruss_webhook_attempts_total",
				Help: "Total number of individual outbound webhook attempts",
			},
			[]string{"event", "status"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "acoruss_webhook_duration_seconds",
				Help:    "Wall time of a full outbound delivery sequence including back-off",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 35},
			},
			[]string{"event"},
		),

		AuthFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acoruss_auth_failures_total",
				Help: "Total number of rejected API requests by reason",
			},
			[]string{"reason"},
		),
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acoruss_rate_limit_hits_total",
				Help: "Total number of rate limit rejections",
			},
			[]string{"limit_type"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "acoruss_db_query_duration_seconds",
				Help:    "Database query duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation", "backend"},
		),
	}
}

// ObserveInitiation records a payment initiation attempt.
func (m *Metrics) ObserveInitiation(currency string) {
	m.PaymentsInitiatedTotal.WithLabelValues(currency).Inc()
}

// ObservePaymentOutcome records a terminal payment transition.
func (m *Metrics) ObservePaymentOutcome(currency, status, channel string, amountMinor int64) {
	switch status {
	case "success":
		m.PaymentsSucceededTotal.WithLabelValues(currency, channel).Inc()
		m.PaymentAmountTotal.WithLabelValues(currency).Add(float64(amountMinor))
	default:
		m.PaymentsFailedTotal.WithLabelValues(currency, status).Inc()
	}
}

// ObserveRefund records a refund request and its outcome.
func (m *Metrics) ObserveRefund(status, currency string, amountMinor int64) {
	m.RefundsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.RefundAmountTotal.WithLabelValues(currency).Add(float64(amountMinor))
	}
}

// ObserveUpstreamCall records a call to the upstream processor.
func (m *Metrics) ObserveUpstreamCall(endpoint string, duration time.Duration, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.UpstreamCallsTotal.WithLabelValues(endpoint, outcome).Inc()
	m.UpstreamCallDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveInboundWebhook records an inbound processor webhook.
func (m *Metrics) ObserveInboundWebhook(event, outcome string) {
	m.InboundWebhooksTotal.WithLabelValues(event, outcome).Inc()
}

// ObserveWebhookDelivery records a completed outbound delivery sequence.
func (m *Metrics) ObserveWebhookDelivery(event, status string, duration time.Duration) {
	m.WebhookDeliveriesTotal.WithLabelValues(event, status).Inc()
	m.WebhookDuration.WithLabelValues(event).Observe(duration.Seconds())
}

// ObserveWebhookAttempt records a single outbound webhook attempt.
func (m *Metrics) ObserveWebhookAttempt(event string, success bool) {
	status := "success"
	if !success {
		status = "failed"
	}
	m.WebhookAttemptsTotal.WithLabelValues(event, status).Inc()
}

// ObserveAuthFailure records a rejected API request.
func (m *Metrics) ObserveAuthFailure(reason string) {
	m.AuthFailuresTotal.WithLabelValues(reason).Inc()
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}
