package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/vetclinic/internal/observability/logger"
	"github.com/smallbiznis/vetclinic/internal/observability/metrics"
	"github.com/smallbiznis/vetclinic/internal/observability/tracing"
	"github.com/smallbiznis/vetclinic/pkg/telemetry"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module provides the zap logger, the gorm logger, the OTel tracer and meter
// providers and the Prometheus billing metrics.
var Module = fx.Module("observability",
	fx.Provide(
		NewConfig,
		Config.loggerConfig,
		Config.tracingConfig,
		Config.metricsConfig,
		logger.New,
		logger.ProvideGormLogger,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		func() *telemetry.Metrics { return telemetry.NewMetrics(prometheus.DefaultRegisterer) },
	),
	// Nothing consumes the tracer provider directly; requesting it installs
	// the global provider and its shutdown hook.
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)

func (c Config) loggerConfig() logger.Config {
	return logger.Config{
		ServiceName:         c.ServiceName,
		Environment:         c.Environment,
		Version:             c.Version,
		Level:               c.LogLevel,
		Format:              c.LogFormat,
		Debug:               c.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: c.Debug(),
	}
}

func (c Config) tracingConfig() tracing.Config {
	return tracing.Config{
		Enabled:          c.OtelEnabled,
		ServiceName:      c.ServiceName,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.OtelExporterEndpoint,
		ExporterProtocol: c.OtelExporterProtocol,
		SamplingRatio:    c.OtelSamplingRatio,
	}
}

func (c Config) metricsConfig() metrics.Config {
	return metrics.Config{
		Enabled:          c.OtelEnabled,
		ExporterEndpoint: c.OtelExporterEndpoint,
		ExporterProtocol: c.OtelExporterProtocol,
		ServiceName:      c.ServiceName,
		Environment:      c.Environment,
	}
}
