package domain

import (
	"context"
	"net/http"
)

type ChargeStatus string

const (
	ChargeStatusSucceeded      ChargeStatus = "succeeded"
	ChargeStatusRequiresAction ChargeStatus = "requires_action"
	ChargeStatusProcessing     ChargeStatus = "processing"
)

// ChargeRequest asks the processor to charge a saved payment method.
// AmountMinor is in the currency's smallest unit.
type ChargeRequest struct {
	AmountMinor      int64
	Currency         string
	CustomerRef      string
	PaymentMethodRef string
	Metadata         map[string]string
	IdempotencyKey   string
}

type Charge struct {
	ID              string
	Status          ChargeStatus
	ClientSecret    string
	LatestChargeRef string
	FailureMessage  string
}

// Processor is a payment provider able to charge and to authenticate its
// webhooks.
type Processor interface {
	Provider() string
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

type AdapterConfig struct {
	Provider string
	Config   map[string]any
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Processor, error)
}
