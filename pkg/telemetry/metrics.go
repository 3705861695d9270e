package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/vetclinic/pkg/tenantdb"
)

// Metrics exposes Prometheus observability primitives for the clinic platform.
type Metrics struct {
	apiRequests      *prometheus.CounterVec
	apiDuration      *prometheus.HistogramVec
	tenantOps        *prometheus.CounterVec
	tenantOpDuration *prometheus.HistogramVec
	tenantOpRows     *prometheus.CounterVec
	paymentAttempts  *prometheus.CounterVec
	paymentAmount    *prometheus.HistogramVec
	webhookEvents    *prometheus.CounterVec
	webhookDuration  *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg and returns them.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	apiRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vetclinic_api_requests_total",
		Help: "Counts API requests by route, status, and tenant.",
	}, []string{"route", "status", "tenant"})

	apiDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vetclinic_api_duration_seconds",
		Help:    "API request latency per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	tenantOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vetclinic_tenantdb_operations_total",
		Help: "Tenant scoped data access operations by table, operation and outcome.",
	}, []string{"table", "operation", "status"})

	tenantOpDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vetclinic_tenantdb_operation_duration_seconds",
		Help:    "Tenant scoped data access latency.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"table", "operation"})

	tenantOpRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vetclinic_tenantdb_rows_total",
		Help: "Rows read or written through the tenant scoped data access layer.",
	}, []string{"table", "operation"})

	paymentAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vetclinic_payment_attempts_total",
		Help: "Invoice payment attempts by outcome.",
	}, []string{"outcome", "currency"})

	paymentAmount := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vetclinic_payment_amount",
		Help:    "Settled payment amount distribution in major units.",
		Buckets: []float64{10_000, 50_000, 100_000, 250_000, 500_000, 1_000_000, 5_000_000},
	}, []string{"currency"})

	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vetclinic_webhook_events_total",
		Help: "Processor webhook events by type and outcome.",
	}, []string{"provider", "event_type", "status"})

	webhookDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vetclinic_webhook_duration_seconds",
		Help:    "Webhook processing latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		apiRequests,
		apiDuration,
		tenantOps,
		tenantOpDuration,
		tenantOpRows,
		paymentAttempts,
		paymentAmount,
		webhookEvents,
		webhookDuration,
	)

	return &Metrics{
		apiRequests:      apiRequests,
		apiDuration:      apiDuration,
		tenantOps:        tenantOps,
		tenantOpDuration: tenantOpDuration,
		tenantOpRows:     tenantOpRows,
		paymentAttempts:  paymentAttempts,
		paymentAmount:    paymentAmount,
		webhookEvents:    webhookEvents,
		webhookDuration:  webhookDuration,
	}
}

// ObserveAPIRequest records an API request and latency.
func (m *Metrics) ObserveAPIRequest(route, status, tenant string, duration time.Duration) {
	if m == nil {
		return
	}
	routeLabel := sanitizeLabel(route)
	m.apiRequests.WithLabelValues(routeLabel, status, sanitizeTenant(tenant)).Inc()
	m.apiDuration.WithLabelValues(routeLabel).Observe(duration.Seconds())
}

// Track implements tenantdb.Tracker. Tenant ids stay out of the labels to
// keep cardinality bounded by the number of tables.
func (m *Metrics) Track(_ context.Context, obs tenantdb.Observation) {
	if m == nil {
		return
	}
	table := sanitizeLabel(obs.Table)
	op := sanitizeLabel(string(obs.Operation))
	status := "ok"
	if obs.Err != nil {
		status = "error"
	}
	m.tenantOps.WithLabelValues(table, op, status).Inc()
	m.tenantOpDuration.WithLabelValues(table, op).Observe(obs.Duration.Seconds())
	if obs.Rows > 0 {
		m.tenantOpRows.WithLabelValues(table, op).Add(float64(obs.Rows))
	}
}

// RecordPaymentAttempt counts a payment attempt outcome.
func (m *Metrics) RecordPaymentAttempt(outcome, currency string) {
	if m == nil {
		return
	}
	m.paymentAttempts.WithLabelValues(sanitizeLabel(outcome), sanitizeLabel(currency)).Inc()
}

// ObservePaymentAmount records a settled amount.
func (m *Metrics) ObservePaymentAmount(currency string, amount float64) {
	if m == nil {
		return
	}
	m.paymentAmount.WithLabelValues(sanitizeLabel(currency)).Observe(amount)
}

// RecordWebhookEvent records webhook processing metrics.
func (m *Metrics) RecordWebhookEvent(provider, eventType, status string, duration time.Duration) {
	if m == nil {
		return
	}
	providerLabel := sanitizeLabel(provider)
	m.webhookEvents.WithLabelValues(providerLabel, sanitizeLabel(eventType), sanitizeLabel(status)).Inc()
	m.webhookDuration.WithLabelValues(providerLabel).Observe(duration.Seconds())
}

func sanitizeTenant(tenant string) string {
	if tenant == "" {
		return "unknown"
	}
	return tenant
}

func sanitizeLabel(val string) string {
	if val == "" {
		return "unknown"
	}
	return val
}
