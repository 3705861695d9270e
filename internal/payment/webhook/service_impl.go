package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	obsmetrics "github.com/smallbiznis/vetclinic/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/vetclinic/internal/payment/domain"
	"github.com/smallbiznis/vetclinic/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Processor  paymentdomain.Processor
	PaymentSvc paymentdomain.Service
	Metrics    *telemetry.Metrics  `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	processor  paymentdomain.Processor
	paymentSvc paymentdomain.Service
	metrics    *telemetry.Metrics
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		processor:  p.Processor,
		paymentSvc: p.PaymentSvc,
		metrics:    p.Metrics,
		obsMetrics: p.ObsMetrics,
	}
}

// Ingest authenticates and applies one processor callback. Only an invalid
// signature is returned to the caller; every other failure is logged so the
// processor sees an acknowledgement and does not retry.
func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	start := time.Now()
	provider = strings.ToLower(strings.TrimSpace(provider))
	if s.processor == nil || provider != s.processor.Provider() {
		s.log.Warn("webhook for unknown provider", zap.String("provider", provider))
		s.observe(ctx, provider, "unknown", "rejected", start)
		return paymentdomain.ErrInvalidSignature
	}

	if err := s.processor.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("webhook signature rejected", zap.String("provider", provider), zap.Error(err))
		if s.obsMetrics != nil {
			s.obsMetrics.RecordSignatureRejected(ctx, provider)
		}
		s.observe(ctx, provider, "unknown", "rejected", start)
		return paymentdomain.ErrInvalidSignature
	}

	event, err := s.processor.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.log.Info("webhook event ignored", zap.String("provider", provider))
			s.observe(ctx, provider, "ignored", "ignored", start)
			return nil
		}
		s.log.Error("webhook event could not be parsed", zap.String("provider", provider), zap.Error(err))
		s.observe(ctx, provider, "unknown", "error", start)
		return nil
	}

	log := s.log.With(
		zap.String("provider", provider),
		zap.String("event_id", event.ProviderEventID),
		zap.String("event_type", event.ProviderEventType),
		zap.String("tenant_id", event.TenantID),
	)
	if err := s.paymentSvc.ProcessEvent(ctx, event); err != nil {
		if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
			log.Info("webhook event already processed")
			s.observe(ctx, provider, event.Type, "duplicate", start)
			return nil
		}
		log.Error("webhook event processing failed", zap.Error(err))
		s.observe(ctx, provider, event.Type, "error", start)
		return nil
	}

	log.Info("webhook event processed")
	s.observe(ctx, provider, event.Type, "processed", start)
	return nil
}

func (s *Service) observe(ctx context.Context, provider, eventType, status string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordWebhookEvent(provider, eventType, status, time.Since(start))
	}
}
