package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vetclinic/internal/requestctx"
	"github.com/smallbiznis/vetclinic/pkg/db/pagination"
	"github.com/smallbiznis/vetclinic/pkg/tenantdb"
	"gorm.io/gorm"
)

type PayInvoiceRequest struct {
	InvoiceID       string `json:"invoice_id"`
	PaymentMethodID string `json:"payment_method_id,omitempty"`
}

type PaymentSummary struct {
	Status        string      `json:"status"`
	Amount        json.Number `json:"amount"`
	Currency      string      `json:"currency"`
	InvoiceNumber string      `json:"invoice_number"`
	PaymentMethod string      `json:"payment_method"`
}

// PayResult is returned for every charge that reached the processor without
// failing. Exactly one of Success, RequiresAction and Processing is set.
type PayResult struct {
	Success         bool            `json:"success"`
	Payment         *PaymentSummary `json:"payment,omitempty"`
	RequiresAction  bool            `json:"requires_action,omitempty"`
	Processing      bool            `json:"processing,omitempty"`
	ClientSecret    string          `json:"client_secret,omitempty"`
	PaymentIntentID string          `json:"payment_intent_id,omitempty"`
}

// TransactionRef locates a ledger transaction by id or, when the id is
// unknown, by the processor's payment reference.
type TransactionRef struct {
	ID                snowflake.ID
	ProviderPaymentID string
}

type ListTransactionsRequest struct {
	InvoiceID string
	pagination.Pagination
}

type ListTransactionsResponse struct {
	Transactions []Transaction       `json:"transactions"`
	PageInfo     pagination.PageInfo `json:"page_info"`
}

type Service interface {
	Pay(ctx context.Context, caller requestctx.Caller, req PayInvoiceRequest) (*PayResult, error)
	// MarkSucceeded applies a successful charge once. applied is false when
	// the invoice was already paid.
	MarkSucceeded(ctx context.Context, db *tenantdb.DB, ref TransactionRef, charge *Charge) (applied bool, err error)
	MarkFailed(ctx context.Context, db *tenantdb.DB, ref TransactionRef, reason string) error
	MarkRefunded(ctx context.Context, db *tenantdb.DB, ref TransactionRef) (applied bool, err error)
	ListTransactions(ctx context.Context, caller requestctx.Caller, req ListTransactionsRequest) (ListTransactionsResponse, error)
	ProcessEvent(ctx context.Context, event *PaymentEvent) error
}

type Repository interface {
	InsertTransaction(ctx context.Context, db *tenantdb.DB, txn *Transaction) error
	FindTransaction(ctx context.Context, db *tenantdb.DB, ref TransactionRef) (*Transaction, error)
	UpdateTransaction(ctx context.Context, db *tenantdb.DB, id snowflake.ID, from []TransactionStatus, data map[string]any) (bool, error)
	ListTransactions(ctx context.Context, db *tenantdb.DB, invoiceID snowflake.ID, cursor *pagination.Cursor, limit int) ([]Transaction, error)

	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}

var (
	ErrInvalidInvoiceID       = errors.New("invalid_invoice_id")
	ErrInvalidPaymentMethodID = errors.New("invalid_payment_method_id")
	ErrPaymentMethodRequired  = errors.New("payment_method_required")
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrPaymentFailed          = errors.New("payment_failed")
	ErrTransactionNotFound    = errors.New("transaction_not_found")

	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrInvalidConfig         = errors.New("invalid_config")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrInvalidTenant         = errors.New("invalid_tenant")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
)
