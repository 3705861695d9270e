// Package metrics exports billing counters over OTLP alongside the
// Prometheus registry in pkg/telemetry.
package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const exportInterval = 10 * time.Second

type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// NewProvider installs the global meter provider. With export disabled a
// noop provider is used and every instrument is free.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
	)
	otel.SetMeterProvider(provider)
	if lc != nil {
		lc.Append(fx.Hook{OnStop: provider.Shutdown})
	}
	log.Info("otlp metrics enabled",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	ctx := context.Background()
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(ctx, opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Metrics holds the billing counters. A nil *Metrics records nothing.
type Metrics struct {
	paymentEvents    metric.Int64Counter
	chargeOutcomes   metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
	signatureRejects metric.Int64Counter
}

func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	scope := strings.TrimSpace(cfg.ServiceName)
	if scope == "" {
		scope = "vetclinic"
	}
	meter := provider.Meter(scope)

	m := &Metrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.paymentEvents, "vetclinic_payment_events_total", "Processor webhook events applied."},
		{&m.chargeOutcomes, "vetclinic_charge_outcomes_total", "Synchronous charge results by outcome."},
		{&m.rateLimitDenied, "vetclinic_rate_limit_denied_total", "Payment attempts refused by the rate limiter."},
		{&m.signatureRejects, "vetclinic_webhook_signature_rejected_total", "Webhook deliveries with an invalid signature."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	add(ctx, m.paymentEvents,
		attribute.String("provider", provider),
		attribute.String("event_type", eventType),
	)
}

func (m *Metrics) RecordChargeOutcome(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	add(ctx, m.chargeOutcomes,
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	)
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, tenantID, endpoint string) {
	if m == nil {
		return
	}
	add(ctx, m.rateLimitDenied,
		attribute.String("tenant_id", tenantID),
		attribute.String("endpoint", endpoint),
	)
}

func (m *Metrics) RecordSignatureRejected(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	add(ctx, m.signatureRejects, attribute.String("provider", provider))
}

func add(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	counter.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attrs...)...))
}

// Only these label keys are exported. Identifiers such as invoice or
// transaction ids would explode series cardinality.
var allowedLabelKeys = map[attribute.Key]bool{
	"tenant_id":  true,
	"endpoint":   true,
	"provider":   true,
	"event_type": true,
	"outcome":    true,
}

// FilterAttributes drops labels outside the allow list and trims values.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if !allowedLabelKeys[attr.Key] {
			continue
		}
		if attr.Value.Type() == attribute.STRING {
			attr = attribute.String(string(attr.Key), strings.TrimSpace(attr.Value.AsString()))
		}
		out = append(out, attr)
	}
	return out
}
