package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/vetclinic/internal/audit/domain"
	"github.com/smallbiznis/vetclinic/internal/authorization"
	"github.com/smallbiznis/vetclinic/internal/clock"
	"github.com/smallbiznis/vetclinic/internal/config"
	invoicedomain "github.com/smallbiznis/vetclinic/internal/invoice/domain"
	"github.com/smallbiznis/vetclinic/internal/notification"
	obsmetrics "github.com/smallbiznis/vetclinic/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/vetclinic/internal/payment/domain"
	paymentmethoddomain "github.com/smallbiznis/vetclinic/internal/paymentmethod/domain"
	"github.com/smallbiznis/vetclinic/internal/ratelimit"
	"github.com/smallbiznis/vetclinic/internal/requestctx"
	tenantdomain "github.com/smallbiznis/vetclinic/internal/tenant/domain"
	"github.com/smallbiznis/vetclinic/pkg/db/pagination"
	"github.com/smallbiznis/vetclinic/pkg/telemetry"
	"github.com/smallbiznis/vetclinic/pkg/tenantdb"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Tenants   *tenantdb.Factory
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Authz     authorization.Service
	Repo      paymentdomain.Repository
	Invoices  invoicedomain.Repository
	Methods   paymentmethoddomain.Repository
	TenantSvc tenantdomain.Service
	Notifier  notification.Notifier
	Processor paymentdomain.Processor
	Limiter   *ratelimit.PaymentLimiter
	Payments  *config.PaymentsConfigHolder
	Audit     auditdomain.Service

	Metrics    *telemetry.Metrics  `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	tenants    *tenantdb.Factory
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	authz      authorization.Service
	repo       paymentdomain.Repository
	invoices   invoicedomain.Repository
	methods    paymentmethoddomain.Repository
	tenantSvc  tenantdomain.Service
	notifier   notification.Notifier
	processor  paymentdomain.Processor
	limiter    *ratelimit.PaymentLimiter
	payments   *config.PaymentsConfigHolder
	audit      auditdomain.Service
	metrics    *telemetry.Metrics
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		tenants:    p.Tenants,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		authz:      p.Authz,
		repo:       p.Repo,
		invoices:   p.Invoices,
		methods:    p.Methods,
		tenantSvc:  p.TenantSvc,
		notifier:   p.Notifier,
		processor:  p.Processor,
		limiter:    p.Limiter,
		payments:   p.Payments,
		audit:      p.Audit,
		metrics:    p.Metrics,
		obsMetrics: p.ObsMetrics,
	}
}

// Pay charges a stored payment method for one invoice. Every precondition
// is checked before the processor is contacted.
func (s *Service) Pay(ctx context.Context, caller requestctx.Caller, req paymentdomain.PayInvoiceRequest) (*paymentdomain.PayResult, error) {
	invoiceID, err := parseID(req.InvoiceID, paymentdomain.ErrInvalidInvoiceID)
	if err != nil {
		return nil, err
	}
	var methodID snowflake.ID
	if strings.TrimSpace(req.PaymentMethodID) != "" {
		methodID, err = parseID(req.PaymentMethodID, paymentdomain.ErrInvalidPaymentMethodID)
		if err != nil {
			return nil, err
		}
	}
	if err := s.authz.Authorize(ctx, caller, authorization.ObjectInvoice, authorization.ActionInvoicePay); err != nil {
		return nil, err
	}

	db, err := s.tenants.For(caller.TenantID)
	if err != nil {
		return nil, err
	}
	log := s.log.With(
		zap.String("tenant_id", caller.TenantID),
		zap.String("user_id", caller.UserID),
		zap.String("invoice_id", invoiceID.String()),
	)

	invoice, err := s.invoices.FindByID(ctx, db, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrNotFound
	}
	switch {
	case invoice.Status == invoicedomain.InvoiceStatusPaid:
		return nil, invoicedomain.ErrAlreadyPaid
	case invoice.Status == invoicedomain.InvoiceStatusVoid:
		return nil, invoicedomain.ErrAlreadyVoid
	case !invoice.Status.Payable():
		return nil, invoicedomain.ErrStatusConflict
	}

	method, err := s.resolveMethod(ctx, db, methodID)
	if err != nil {
		if errors.Is(err, paymentmethoddomain.ErrForbidden) {
			log.Warn("payment method outside tenant scope", zap.String("payment_method_id", methodID.String()))
		}
		return nil, err
	}

	if _, err := s.limiter.Allow(ctx, caller.TenantID); err != nil {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimitDenied(ctx, caller.TenantID, "pay")
		}
		return nil, err
	}

	settings := s.payments.Get()
	currency := strings.ToUpper(strings.TrimSpace(invoice.Currency))
	if currency == "" {
		currency = settings.DefaultCurrency
	}
	amountMinor, err := ToMinorUnits(invoice.Amount, currency, settings)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	txn := paymentdomain.Transaction{
		ID:              s.genID.Generate(),
		InvoiceID:       invoice.ID,
		PaymentMethodID: &method.ID,
		Provider:        s.processor.Provider(),
		Amount:          invoice.Amount,
		Currency:        currency,
		Status:          paymentdomain.TransactionStatusPending,
		Metadata: datatypes.JSONMap{
			"invoice_number": invoice.InvoiceNumber,
			"amount_minor":   amountMinor,
			"initiated_by":   caller.UserID,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertTransaction(ctx, db, &txn); err != nil {
		return nil, err
	}
	log = log.With(zap.String("transaction_id", txn.ID.String()))

	charge, err := s.processor.CreateCharge(ctx, paymentdomain.ChargeRequest{
		AmountMinor:      amountMinor,
		Currency:         currency,
		CustomerRef:      method.ProviderCustomerID,
		PaymentMethodRef: method.ProviderMethodID,
		Metadata: map[string]string{
			"tenant_id":      caller.TenantID,
			"invoice_id":     invoice.ID.String(),
			"transaction_id": txn.ID.String(),
		},
		IdempotencyKey: "txn_" + txn.ID.String(),
	})
	if err != nil {
		log.Error("charge creation failed", zap.Error(err))
		s.failAttempt(ctx, db, txn.ID, err.Error(), currency, log)
		return nil, paymentdomain.ErrPaymentFailed
	}
	s.recordChargeOutcome(ctx, string(charge.Status), currency)

	ref := paymentdomain.TransactionRef{ID: txn.ID}
	switch charge.Status {
	case paymentdomain.ChargeStatusSucceeded:
		if _, err := s.MarkSucceeded(ctx, db, ref, charge); err != nil {
			log.Error("failed to record successful charge", zap.String("payment_intent_id", charge.ID), zap.Error(err))
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.ObservePaymentAmount(currency, invoice.Amount.InexactFloat64())
		}
		return &paymentdomain.PayResult{
			Success: true,
			Payment: &paymentdomain.PaymentSummary{
				Status:        string(paymentdomain.TransactionStatusSucceeded),
				Amount:        json.Number(invoice.Amount.String()),
				Currency:      currency,
				InvoiceNumber: invoice.InvoiceNumber,
				PaymentMethod: method.Label(),
			},
		}, nil

	case paymentdomain.ChargeStatusRequiresAction, paymentdomain.ChargeStatusProcessing:
		if err := s.markProcessing(ctx, db, txn.ID, charge); err != nil {
			return nil, err
		}
		result := &paymentdomain.PayResult{
			Success:         false,
			PaymentIntentID: charge.ID,
		}
		if charge.Status == paymentdomain.ChargeStatusRequiresAction {
			result.RequiresAction = true
			result.ClientSecret = charge.ClientSecret
		} else {
			result.Processing = true
		}
		log.Info("charge pending", zap.String("status", string(charge.Status)), zap.String("payment_intent_id", charge.ID))
		return result, nil

	default:
		reason := charge.FailureMessage
		if reason == "" {
			reason = fmt.Sprintf("processor status %s", charge.Status)
		}
		log.Warn("charge not successful", zap.String("status", string(charge.Status)), zap.String("reason", reason))
		s.failAttempt(ctx, db, txn.ID, reason, currency, log)
		return nil, paymentdomain.ErrPaymentFailed
	}
}

// errNotSettled rolls back a settlement or refund whose rows had already
// moved on.
var errNotSettled = errors.New("settlement_not_applied")

// MarkSucceeded settles a successful charge. It is reached from both the
// synchronous charge response and the webhook; the invoice status decides
// which arrival performs the work and the other becomes a no-op. All writes
// share one store transaction so a failure leaves nothing half settled.
func (s *Service) MarkSucceeded(ctx context.Context, db *tenantdb.DB, ref paymentdomain.TransactionRef, charge *paymentdomain.Charge) (bool, error) {
	txn, err := s.repo.FindTransaction(ctx, db, ref)
	if err != nil {
		return false, err
	}
	if txn == nil {
		return false, paymentdomain.ErrTransactionNotFound
	}
	log := s.log.With(
		zap.String("tenant_id", db.TenantID()),
		zap.String("transaction_id", txn.ID.String()),
		zap.String("invoice_id", txn.InvoiceID.String()),
	)

	invoice, err := s.invoices.FindByID(ctx, db, txn.InvoiceID)
	if err != nil {
		return false, err
	}
	if invoice == nil {
		return false, invoicedomain.ErrNotFound
	}
	switch invoice.Status {
	case invoicedomain.InvoiceStatusPaid:
		log.Info("invoice already paid, skipping settlement")
		return false, nil
	case invoicedomain.InvoiceStatusVoid:
		s.flagUnapplied(ctx, db, txn, invoice, charge, log)
		return false, nil
	}

	var method *paymentmethoddomain.PaymentMethod
	if txn.PaymentMethodID != nil {
		method, err = s.methods.Verify(ctx, db, *txn.PaymentMethodID)
		if err != nil {
			return false, err
		}
	}
	label := ""
	if method != nil {
		label = method.Label()
	}

	now := s.clock.Now()
	update := map[string]any{
		"status":       paymentdomain.TransactionStatusSucceeded,
		"completed_at": now,
		"updated_at":   now,
	}
	if charge != nil {
		if charge.ID != "" {
			update["provider_payment_id"] = charge.ID
		}
		if charge.LatestChargeRef != "" {
			update["provider_charge_id"] = charge.LatestChargeRef
		}
	}

	err = db.Transaction(ctx, func(tx *tenantdb.DB) error {
		moved, err := s.repo.UpdateTransaction(ctx, tx, txn.ID, []paymentdomain.TransactionStatus{
			paymentdomain.TransactionStatusPending,
			paymentdomain.TransactionStatusProcessing,
			paymentdomain.TransactionStatusFailed,
		}, update)
		if err != nil {
			return err
		}
		if !moved {
			return errNotSettled
		}
		// The conditional update is the race arbiter: only one caller moves
		// the invoice out of a payable state.
		won, err := s.invoices.MarkPaid(ctx, tx, invoice.ID, now, label)
		if err != nil {
			return err
		}
		if !won {
			return errNotSettled
		}
		if _, err := s.invoices.MarkCommissionsPaid(ctx, tx, invoice.ID, now); err != nil {
			return err
		}
		if method != nil {
			return s.methods.IncrementUsage(ctx, tx, method.ID, now)
		}
		return nil
	})
	if errors.Is(err, errNotSettled) {
		current, ferr := s.invoices.FindByID(ctx, db, invoice.ID)
		if ferr == nil && current != nil && current.Status == invoicedomain.InvoiceStatusVoid {
			s.flagUnapplied(ctx, db, txn, current, charge, log)
			return false, nil
		}
		log.Info("settlement already applied elsewhere, skipping")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.recordAudit(ctx, db, auditdomain.ActionPaymentSucceeded, txn.ID, map[string]any{
		"invoice_id":     invoice.ID.String(),
		"invoice_number": invoice.InvoiceNumber,
		"amount":         invoice.Amount.String(),
		"currency":       invoice.Currency,
	}, providerRefs(charge))
	s.notifyPaid(ctx, db.TenantID(), invoice)
	if s.metrics != nil {
		s.metrics.RecordPaymentAttempt("settled", invoice.Currency)
	}
	log.Info("invoice paid", zap.String("amount", invoice.Amount.String()), zap.String("currency", invoice.Currency))
	return true, nil
}

// flagUnapplied records a captured charge that no payable invoice accepted.
// The ledger row keeps its status; the audit entry is what operators refund
// from.
func (s *Service) flagUnapplied(ctx context.Context, db *tenantdb.DB, txn *paymentdomain.Transaction, invoice *invoicedomain.Invoice, charge *paymentdomain.Charge, log *zap.Logger) {
	refs := providerRefs(charge)
	if refs == nil && txn.ProviderPaymentID != nil {
		refs = map[string]any{"provider_payment_id": *txn.ProviderPaymentID}
	}
	log.Error("charge captured for an invoice that cannot be paid",
		zap.String("invoice_status", string(invoice.Status)),
		zap.String("transaction_status", string(txn.Status)),
	)
	s.recordAudit(ctx, db, auditdomain.ActionPaymentUnapplied, txn.ID, map[string]any{
		"invoice_id":     invoice.ID.String(),
		"invoice_number": invoice.InvoiceNumber,
		"invoice_status": string(invoice.Status),
		"amount":         txn.Amount.String(),
		"currency":       txn.Currency,
	}, refs)
	if s.metrics != nil {
		s.metrics.RecordPaymentAttempt("unapplied", txn.Currency)
	}
}

// MarkFailed records a failed attempt. The invoice is left as it is.
func (s *Service) MarkFailed(ctx context.Context, db *tenantdb.DB, ref paymentdomain.TransactionRef, reason string) error {
	txn, err := s.repo.FindTransaction(ctx, db, ref)
	if err != nil {
		return err
	}
	if txn == nil {
		return paymentdomain.ErrTransactionNotFound
	}
	return s.markFailed(ctx, db, txn.ID, reason)
}

// MarkRefunded reverses a succeeded transaction: the invoice goes back to
// sent and its commissions back to invoiced. Repeated calls are no-ops.
func (s *Service) MarkRefunded(ctx context.Context, db *tenantdb.DB, ref paymentdomain.TransactionRef) (bool, error) {
	txn, err := s.repo.FindTransaction(ctx, db, ref)
	if err != nil {
		return false, err
	}
	if txn == nil {
		return false, paymentdomain.ErrTransactionNotFound
	}

	now := s.clock.Now()
	err = db.Transaction(ctx, func(tx *tenantdb.DB) error {
		changed, err := s.repo.UpdateTransaction(ctx, tx, txn.ID, []paymentdomain.TransactionStatus{
			paymentdomain.TransactionStatusSucceeded,
		}, map[string]any{
			"status":      paymentdomain.TransactionStatusRefunded,
			"refunded_at": now,
			"updated_at":  now,
		})
		if err != nil {
			return err
		}
		if !changed {
			return errNotSettled
		}
		if _, err := s.invoices.ReopenAfterRefund(ctx, tx, txn.InvoiceID, now); err != nil {
			return err
		}
		_, err = s.invoices.RevertCommissions(ctx, tx, txn.InvoiceID, now)
		return err
	})
	if errors.Is(err, errNotSettled) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.recordAudit(ctx, db, auditdomain.ActionPaymentRefunded, txn.ID, map[string]any{
		"invoice_id": txn.InvoiceID.String(),
		"amount":     txn.Amount.String(),
		"currency":   txn.Currency,
	}, map[string]any{"provider_payment_id": stringValue(txn.ProviderPaymentID)})
	if s.metrics != nil {
		s.metrics.RecordPaymentAttempt("refunded", txn.Currency)
	}
	s.log.Info("payment refunded",
		zap.String("tenant_id", db.TenantID()),
		zap.String("transaction_id", txn.ID.String()),
		zap.String("invoice_id", txn.InvoiceID.String()),
	)
	return true, nil
}

func (s *Service) ListTransactions(ctx context.Context, caller requestctx.Caller, req paymentdomain.ListTransactionsRequest) (paymentdomain.ListTransactionsResponse, error) {
	if err := s.authz.Authorize(ctx, caller, authorization.ObjectInvoice, authorization.ActionInvoiceView); err != nil {
		return paymentdomain.ListTransactionsResponse{}, err
	}
	invoiceID, err := parseID(req.InvoiceID, paymentdomain.ErrInvalidInvoiceID)
	if err != nil {
		return paymentdomain.ListTransactionsResponse{}, err
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return paymentdomain.ListTransactionsResponse{}, err
	}

	db, err := s.tenants.For(caller.TenantID)
	if err != nil {
		return paymentdomain.ListTransactionsResponse{}, err
	}
	exists, err := db.Exists(ctx, "platform_invoices", invoiceID)
	if err != nil {
		return paymentdomain.ListTransactionsResponse{}, err
	}
	if !exists {
		return paymentdomain.ListTransactionsResponse{}, invoicedomain.ErrNotFound
	}

	limit := req.Limit()
	items, err := s.repo.ListTransactions(ctx, db, invoiceID, cursor, limit+1)
	if err != nil {
		return paymentdomain.ListTransactionsResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(t paymentdomain.Transaction) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        t.ID.String(),
			CreatedAt: t.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if items == nil {
		items = []paymentdomain.Transaction{}
	}
	return paymentdomain.ListTransactionsResponse{
		Transactions: items,
		PageInfo:     *pageInfo,
	}, nil
}

func (s *Service) resolveMethod(ctx context.Context, db *tenantdb.DB, id snowflake.ID) (*paymentmethoddomain.PaymentMethod, error) {
	var (
		method *paymentmethoddomain.PaymentMethod
		err    error
	)
	if id != 0 {
		method, err = s.methods.Verify(ctx, db, id)
		if err != nil {
			return nil, err
		}
		if method == nil {
			return nil, paymentmethoddomain.ErrForbidden
		}
	} else {
		method, err = s.methods.FindPreferred(ctx, db)
		if err != nil {
			return nil, err
		}
		if method == nil {
			return nil, paymentdomain.ErrPaymentMethodRequired
		}
	}
	if !method.Chargeable() {
		return nil, paymentmethoddomain.ErrNotChargeable
	}
	return method, nil
}

func (s *Service) markProcessing(ctx context.Context, db *tenantdb.DB, id snowflake.ID, charge *paymentdomain.Charge) error {
	update := map[string]any{
		"status":              paymentdomain.TransactionStatusProcessing,
		"provider_payment_id": charge.ID,
		"updated_at":          s.clock.Now(),
	}
	if charge.LatestChargeRef != "" {
		update["provider_charge_id"] = charge.LatestChargeRef
	}
	_, err := s.repo.UpdateTransaction(ctx, db, id, []paymentdomain.TransactionStatus{
		paymentdomain.TransactionStatusPending,
	}, update)
	return err
}

func (s *Service) markFailed(ctx context.Context, db *tenantdb.DB, id snowflake.ID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "payment_failed"
	}
	changed, err := s.repo.UpdateTransaction(ctx, db, id, []paymentdomain.TransactionStatus{
		paymentdomain.TransactionStatusPending,
		paymentdomain.TransactionStatusProcessing,
	}, map[string]any{
		"status":         paymentdomain.TransactionStatusFailed,
		"failure_reason": reason,
		"updated_at":     s.clock.Now(),
	})
	if err != nil {
		return err
	}
	if changed {
		s.recordAudit(ctx, db, auditdomain.ActionPaymentFailed, id, map[string]any{"reason": reason}, nil)
	}
	return nil
}

// recordAudit writes a system entry for a transaction. Provider references
// go in secrets so they are masked at rest.
func (s *Service) recordAudit(ctx context.Context, db *tenantdb.DB, action string, txnID snowflake.ID, metadata, secrets map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, db, auditdomain.Entry{
		ActorType:  auditdomain.ActorSystem,
		Action:     action,
		TargetType: "payment_transaction",
		TargetID:   txnID.String(),
		Metadata:   metadata,
		Secrets:    secrets,
	})
}

func providerRefs(charge *paymentdomain.Charge) map[string]any {
	if charge == nil {
		return nil
	}
	refs := map[string]any{}
	if charge.ID != "" {
		refs["provider_payment_id"] = charge.ID
	}
	if charge.LatestChargeRef != "" {
		refs["provider_charge_id"] = charge.LatestChargeRef
	}
	return refs
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func (s *Service) failAttempt(ctx context.Context, db *tenantdb.DB, id snowflake.ID, reason string, currency string, log *zap.Logger) {
	if err := s.markFailed(ctx, db, id, reason); err != nil {
		log.Error("failed to mark transaction failed", zap.Error(err))
	}
	s.recordChargeOutcome(ctx, "failed", currency)
}

func (s *Service) recordChargeOutcome(ctx context.Context, outcome string, currency string) {
	if s.metrics != nil {
		s.metrics.RecordPaymentAttempt(outcome, currency)
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordChargeOutcome(ctx, s.processor.Provider(), outcome)
	}
}

func (s *Service) notifyPaid(ctx context.Context, tenantID string, invoice *invoicedomain.Invoice) {
	if s.notifier == nil || s.tenantSvc == nil {
		return
	}
	admin, err := s.tenantSvc.PrimaryAdmin(ctx, tenantID)
	if err != nil {
		s.log.Warn("primary admin lookup failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return
	}
	if admin == nil {
		s.log.Warn("tenant has no primary admin", zap.String("tenant_id", tenantID))
		return
	}
	s.notifier.Notify(ctx, notification.Message{
		TenantID:      tenantID,
		UserID:        admin.UserID,
		Email:         admin.Email,
		Title:         "Pago recibido",
		Body:          fmt.Sprintf("Se registró el pago de la factura %s por %s %s.", invoice.InvoiceNumber, invoice.Currency, invoice.Amount.String()),
		InvoiceNumber: invoice.InvoiceNumber,
	})
}

func parseID(raw string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, invalid
	}
	return id, nil
}
