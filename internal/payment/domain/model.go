package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusSucceeded  TransactionStatus = "succeeded"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusRefunded   TransactionStatus = "refunded"
)

// Transaction is the ledger row for one charge attempt against an invoice.
type Transaction struct {
	ID                snowflake.ID      `gorm:"primaryKey" json:"id"`
	TenantID          string            `gorm:"column:tenant_id;type:text;not null;index" json:"tenant_id"`
	InvoiceID         snowflake.ID      `gorm:"column:invoice_id;not null;index" json:"invoice_id"`
	PaymentMethodID   *snowflake.ID     `gorm:"column:payment_method_id" json:"payment_method_id,omitempty"`
	Provider          string            `gorm:"column:provider;type:text;not null" json:"provider"`
	Amount            decimal.Decimal   `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	Currency          string            `gorm:"column:currency;type:text;not null" json:"currency"`
	Status            TransactionStatus `gorm:"column:status;type:text;not null" json:"status"`
	ProviderPaymentID *string           `gorm:"column:provider_payment_id;type:text" json:"provider_payment_id,omitempty"`
	ProviderChargeID  *string           `gorm:"column:provider_charge_id;type:text" json:"provider_charge_id,omitempty"`
	FailureReason     *string           `gorm:"column:failure_reason;type:text" json:"failure_reason,omitempty"`
	Metadata          datatypes.JSONMap `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	CompletedAt       *time.Time        `gorm:"column:completed_at" json:"completed_at,omitempty"`
	RefundedAt        *time.Time        `gorm:"column:refunded_at" json:"refunded_at,omitempty"`
	CreatedAt         time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"not null" json:"updated_at"`
}

func (Transaction) TableName() string { return "payment_transactions" }

func (t *Transaction) SetTenantID(tenantID string) { t.TenantID = tenantID }

// EventRecord is a received processor webhook, unique per provider event id.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	TenantID        *string        `json:"tenant_id" gorm:"type:text;index"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
	EventTypeRefunded         = "refunded"
)

// PaymentEvent is the canonical webhook event parsed by adapters.
type PaymentEvent struct {
	Provider          string
	ProviderEventID   string
	ProviderEventType string
	// ProviderPaymentID is the payment intent the event refers to.
	ProviderPaymentID string
	ProviderChargeID  string
	Type              string
	TenantID          string
	InvoiceID         *snowflake.ID
	TransactionID     *snowflake.ID
	Amount            int64
	Currency          string
	FailureMessage    string
	// FullyRefunded is set on refund events once the whole charge was returned.
	FullyRefunded bool
	OccurredAt    time.Time
	RawPayload    []byte
}
