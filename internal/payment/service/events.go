package service

import (
	"context"
	"strings"

	paymentdomain "github.com/smallbiznis/vetclinic/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// ProcessEvent applies a verified webhook event. Events are recorded once
// per provider event id; a redelivered event that was already processed
// returns ErrEventAlreadyProcessed without touching state.
func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	if err := validateEvent(event); err != nil {
		return err
	}

	now := s.clock.Now()
	tenantID := event.TenantID
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		TenantID:        &tenantID,
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(event.RawPayload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			return paymentdomain.ErrEventAlreadyProcessed
		}
	}

	if err := s.applyEvent(ctx, event); err != nil {
		return err
	}
	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now()); err != nil {
		return err
	}

	if inserted && s.obsMetrics != nil {
		s.obsMetrics.RecordPaymentEvent(ctx, event.Provider, event.Type)
	}
	return nil
}

func (s *Service) applyEvent(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	db, err := s.tenants.For(event.TenantID)
	if err != nil {
		return paymentdomain.ErrInvalidTenant
	}
	ref := paymentdomain.TransactionRef{ProviderPaymentID: event.ProviderPaymentID}
	if event.TransactionID != nil {
		ref.ID = *event.TransactionID
	}
	log := s.log.With(
		zap.String("tenant_id", event.TenantID),
		zap.String("event_id", event.ProviderEventID),
		zap.String("event_type", event.Type),
	)

	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		applied, err := s.MarkSucceeded(ctx, db, ref, &paymentdomain.Charge{
			ID:              event.ProviderPaymentID,
			Status:          paymentdomain.ChargeStatusSucceeded,
			LatestChargeRef: event.ProviderChargeID,
		})
		if err != nil {
			return err
		}
		log.Info("payment success event handled", zap.Bool("applied", applied))
		return nil

	case paymentdomain.EventTypePaymentFailed:
		return s.MarkFailed(ctx, db, ref, event.FailureMessage)

	case paymentdomain.EventTypeRefunded:
		if !event.FullyRefunded {
			log.Info("partial refund ignored", zap.Int64("amount", event.Amount))
			return nil
		}
		applied, err := s.MarkRefunded(ctx, db, ref)
		if err != nil {
			return err
		}
		log.Info("refund event handled", zap.Bool("applied", applied))
		return nil

	default:
		return paymentdomain.ErrInvalidEvent
	}
}

func validateEvent(event *paymentdomain.PaymentEvent) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	if event.ProviderEventID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	event.TenantID = strings.TrimSpace(event.TenantID)
	if event.TenantID == "" {
		return paymentdomain.ErrInvalidTenant
	}
	if event.TransactionID == nil && strings.TrimSpace(event.ProviderPaymentID) == "" {
		return paymentdomain.ErrInvalidEvent
	}
	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded, paymentdomain.EventTypePaymentFailed, paymentdomain.EventTypeRefunded:
	default:
		return paymentdomain.ErrInvalidEvent
	}
	return nil
}
