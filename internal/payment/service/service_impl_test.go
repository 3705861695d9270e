package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/vetclinic/internal/audit/domain"
	auditrepo "github.com/smallbiznis/vetclinic/internal/audit/repository"
	auditservice "github.com/smallbiznis/vetclinic/internal/audit/service"
	"github.com/smallbiznis/vetclinic/internal/authorization"
	"github.com/smallbiznis/vetclinic/internal/clock"
	"github.com/smallbiznis/vetclinic/internal/config"
	invoicedomain "github.com/smallbiznis/vetclinic/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/vetclinic/internal/invoice/repository"
	"github.com/smallbiznis/vetclinic/internal/notification"
	paymentdomain "github.com/smallbiznis/vetclinic/internal/payment/domain"
	"github.com/smallbiznis/vetclinic/internal/payment/repository"
	paymentmethoddomain "github.com/smallbiznis/vetclinic/internal/paymentmethod/domain"
	paymentmethodrepo "github.com/smallbiznis/vetclinic/internal/paymentmethod/repository"
	"github.com/smallbiznis/vetclinic/internal/ratelimit"
	"github.com/smallbiznis/vetclinic/internal/requestctx"
	tenantdomain "github.com/smallbiznis/vetclinic/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/vetclinic/internal/tenant/repository"
	tenantservice "github.com/smallbiznis/vetclinic/internal/tenant/service"
	"github.com/smallbiznis/vetclinic/internal/testsupport"
	"github.com/smallbiznis/vetclinic/pkg/db/pagination"
	"github.com/smallbiznis/vetclinic/pkg/tenantdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	clinicA = "clinic-a"
	clinicB = "clinic-b"

	invoiceID      = snowflake.ID(1001)
	methodA        = snowflake.ID(21)
	methodB        = snowflake.ID(31)
	invoiceNumber  = "VC-2026-0001"
	primaryAdminID = "admin-1"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) Provider() string { return "stripe" }

func (m *mockProcessor) CreateCharge(ctx context.Context, req paymentdomain.ChargeRequest) (*paymentdomain.Charge, error) {
	args := m.Called(ctx, req)
	charge, _ := args.Get(0).(*paymentdomain.Charge)
	return charge, args.Error(1)
}

func (m *mockProcessor) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	return nil
}

func (m *mockProcessor) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	return nil, paymentdomain.ErrEventIgnored
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (r *recordingNotifier) Notify(ctx context.Context, msg notification.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

type fixture struct {
	db        *gorm.DB
	svc       *Service
	processor *mockProcessor
	notifier  *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testsupport.OpenSQLite(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	enforcer, err := authorization.NewMemoryEnforcer()
	require.NoError(t, err)

	log := zap.NewNop()
	tenants := tenantdb.NewFactory(db)
	clk := clock.NewFakeClock(testNow)
	payments := config.StaticPaymentsConfig(config.DefaultPaymentsConfig())
	processor := &mockProcessor{}
	notifier := &recordingNotifier{}

	tenantSvc := tenantservice.New(tenantservice.Params{
		DB:      db,
		Tenants: tenants,
		Log:     log,
		GenID:   node,
		Clock:   clk,
		Repo:    tenantrepo.Provide(),
	})

	authz := authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer})
	svc := NewService(Params{
		DB:        db,
		Tenants:   tenants,
		Log:       log,
		GenID:     node,
		Clock:     clk,
		Authz:     authz,
		Repo:      repository.Provide(),
		Invoices:  invoicerepo.Provide(),
		Methods:   paymentmethodrepo.Provide(),
		TenantSvc: tenantSvc,
		Notifier:  notifier,
		Processor: processor,
		Limiter:   ratelimit.NewPaymentLimiter(nil, payments, log),
		Payments:  payments,
		Audit: auditservice.NewService(auditservice.Params{
			Tenants: tenants,
			Authz:   authz,
			Log:     log,
			GenID:   node,
			Clock:   clk,
			Repo:    auditrepo.Provide(),
		}),
	}).(*Service)

	f := &fixture{db: db, svc: svc, processor: processor, notifier: notifier}
	f.seed(t)
	return f
}

func (f *fixture) scoped(t *testing.T, tenantID string) *tenantdb.DB {
	t.Helper()
	tdb, err := tenantdb.New(f.db, tenantID)
	require.NoError(t, err)
	return tdb
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	a := f.scoped(t, clinicA)
	b := f.scoped(t, clinicB)
	id := invoiceID

	require.NoError(t, a.Insert(ctx, "platform_invoices", &invoicedomain.Invoice{
		ID:            invoiceID,
		InvoiceNumber: invoiceNumber,
		Amount:        decimal.NewFromInt(198000),
		Currency:      "PYG",
		Status:        invoicedomain.InvoiceStatusSent,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}, tenantdb.WriteOptions{}))
	commissions := []invoicedomain.Commission{
		{ID: 1, InvoiceID: &id, Amount: decimal.NewFromInt(9900), Status: invoicedomain.CommissionStatusInvoiced, CreatedAt: testNow, UpdatedAt: testNow},
		{ID: 2, InvoiceID: &id, Amount: decimal.NewFromInt(4950), Status: invoicedomain.CommissionStatusPending, CreatedAt: testNow, UpdatedAt: testNow},
	}
	require.NoError(t, a.Insert(ctx, "commissions", &commissions, tenantdb.WriteOptions{}))
	require.NoError(t, a.Insert(ctx, "payment_methods", &paymentmethoddomain.PaymentMethod{
		ID: methodA, Provider: "stripe", ProviderCustomerID: "cus_a", ProviderMethodID: "pm_a",
		DisplayName: "Visa ****4242", IsActive: true, CreatedAt: testNow, UpdatedAt: testNow,
	}, tenantdb.WriteOptions{}))
	require.NoError(t, a.Insert(ctx, "tenant_members", &tenantdomain.Member{
		ID: 1, UserID: primaryAdminID, Email: "admin@clinic-a.test", Role: "owner", IsPrimaryAdmin: true, CreatedAt: testNow,
	}, tenantdb.WriteOptions{}))

	require.NoError(t, b.Insert(ctx, "payment_methods", &paymentmethoddomain.PaymentMethod{
		ID: methodB, Provider: "stripe", ProviderCustomerID: "cus_b", ProviderMethodID: "pm_b",
		DisplayName: "Mastercard ****5555", IsActive: true, CreatedAt: testNow, UpdatedAt: testNow,
	}, tenantdb.WriteOptions{}))
}

func (f *fixture) invoice(t *testing.T) *invoicedomain.Invoice {
	t.Helper()
	inv, err := invoicerepo.Provide().FindByID(context.Background(), f.scoped(t, clinicA), invoiceID)
	require.NoError(t, err)
	require.NotNil(t, inv)
	return inv
}

func (f *fixture) transactions(t *testing.T) []paymentdomain.Transaction {
	t.Helper()
	rows, err := tenantdb.SelectAll[paymentdomain.Transaction](context.Background(), f.scoped(t, clinicA), "payment_transactions", tenantdb.SelectOptions{Order: "id"})
	require.NoError(t, err)
	return rows
}

func (f *fixture) commissions(t *testing.T) []invoicedomain.Commission {
	t.Helper()
	rows, err := invoicerepo.Provide().ListCommissions(context.Background(), f.scoped(t, clinicA), invoiceID)
	require.NoError(t, err)
	return rows
}

func (f *fixture) method(t *testing.T) *paymentmethoddomain.PaymentMethod {
	t.Helper()
	m, err := paymentmethodrepo.Provide().Verify(context.Background(), f.scoped(t, clinicA), methodA)
	require.NoError(t, err)
	require.NotNil(t, m)
	return m
}

func (f *fixture) auditActions(t *testing.T) []string {
	t.Helper()
	var logs []auditdomain.AuditLog
	require.NoError(t, f.db.Table("audit_logs").Order("id").Find(&logs).Error)
	actions := make([]string, 0, len(logs))
	for _, l := range logs {
		assert.Equal(t, clinicA, l.TenantID)
		assert.Equal(t, auditdomain.ActorSystem, l.ActorType)
		actions = append(actions, l.Action)
	}
	return actions
}

var errStore = errors.New("transient store error")

// failOnce returns errStore the first time it is called and nil afterwards.
type failOnce struct {
	mu    sync.Mutex
	fired bool
}

func (f *failOnce) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fired {
		return nil
	}
	f.fired = true
	return errStore
}

type flakyLedger struct {
	paymentdomain.Repository
	once failOnce
}

func (r *flakyLedger) UpdateTransaction(ctx context.Context, db *tenantdb.DB, id snowflake.ID, from []paymentdomain.TransactionStatus, data map[string]any) (bool, error) {
	if data["status"] == paymentdomain.TransactionStatusSucceeded {
		if err := r.once.fail(); err != nil {
			return false, err
		}
	}
	return r.Repository.UpdateTransaction(ctx, db, id, from, data)
}

type flakyInvoices struct {
	invoicedomain.Repository
	once failOnce
}

func (r *flakyInvoices) MarkCommissionsPaid(ctx context.Context, db *tenantdb.DB, invoiceID snowflake.ID, at time.Time) (int64, error) {
	if err := r.once.fail(); err != nil {
		return 0, err
	}
	return r.Repository.MarkCommissionsPaid(ctx, db, invoiceID, at)
}

type flakyMethods struct {
	paymentmethoddomain.Repository
	once failOnce
}

func (r *flakyMethods) IncrementUsage(ctx context.Context, db *tenantdb.DB, id snowflake.ID, at time.Time) error {
	if err := r.once.fail(); err != nil {
		return err
	}
	return r.Repository.IncrementUsage(ctx, db, id, at)
}

// seedProcessingTxn stores a charge that the processor already accepted
// asynchronously.
func (f *fixture) seedProcessingTxn(t *testing.T, id snowflake.ID, providerPaymentID string) {
	t.Helper()
	method := methodA
	ref := providerPaymentID
	require.NoError(t, f.scoped(t, clinicA).Insert(context.Background(), "payment_transactions", &paymentdomain.Transaction{
		ID: id, InvoiceID: invoiceID, PaymentMethodID: &method, Provider: "stripe",
		Amount: decimal.NewFromInt(198000), Currency: "PYG", Status: paymentdomain.TransactionStatusProcessing,
		ProviderPaymentID: &ref, CreatedAt: testNow, UpdatedAt: testNow,
	}, tenantdb.WriteOptions{}))
}

func admin(tenantID string) requestctx.Caller {
	return requestctx.Caller{TenantID: tenantID, UserID: primaryAdminID, Role: requestctx.RoleAdmin}
}

func payRequest() paymentdomain.PayInvoiceRequest {
	return paymentdomain.PayInvoiceRequest{InvoiceID: invoiceID.String(), PaymentMethodID: methodA.String()}
}

func TestPayHappyPath(t *testing.T) {
	f := newFixture(t)
	f.processor.On("CreateCharge", mock.Anything, mock.MatchedBy(func(req paymentdomain.ChargeRequest) bool {
		return req.AmountMinor == 198000 &&
			req.Currency == "PYG" &&
			req.CustomerRef == "cus_a" &&
			req.PaymentMethodRef == "pm_a" &&
			req.Metadata["tenant_id"] == clinicA &&
			req.Metadata["invoice_id"] == invoiceID.String() &&
			req.Metadata["transaction_id"] != "" &&
			req.IdempotencyKey == "txn_"+req.Metadata["transaction_id"]
	})).Return(&paymentdomain.Charge{ID: "pi_1", Status: paymentdomain.ChargeStatusSucceeded, LatestChargeRef: "ch_1"}, nil).Once()

	res, err := f.svc.Pay(context.Background(), admin(clinicA), payRequest())
	require.NoError(t, err)
	f.processor.AssertExpectations(t)

	body, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"success": true,
		"payment": {
			"status": "succeeded",
			"amount": 198000,
			"currency": "PYG",
			"invoice_number": "VC-2026-0001",
			"payment_method": "Visa ****4242"
		}
	}`, string(body))

	inv := f.invoice(t)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, inv.Status)
	require.NotNil(t, inv.PaidAt)
	require.NotNil(t, inv.PaymentMethod)
	assert.Equal(t, "Visa ****4242", *inv.PaymentMethod)

	txns := f.transactions(t)
	require.Len(t, txns, 1)
	assert.Equal(t, paymentdomain.TransactionStatusSucceeded, txns[0].Status)
	assert.NotNil(t, txns[0].CompletedAt)
	require.NotNil(t, txns[0].ProviderPaymentID)
	assert.Equal(t, "pi_1", *txns[0].ProviderPaymentID)
	require.NotNil(t, txns[0].ProviderChargeID)
	assert.Equal(t, "ch_1", *txns[0].ProviderChargeID)
	assert.True(t, txns[0].Amount.Equal(decimal.NewFromInt(198000)))

	for _, c := range f.commissions(t) {
		assert.Equal(t, invoicedomain.CommissionStatusPaid, c.Status)
	}
	method := f.method(t)
	assert.EqualValues(t, 1, method.UsageCount)
	assert.NotNil(t, method.LastUsedAt)

	require.Equal(t, 1, f.notifier.count())
	assert.Equal(t, primaryAdminID, f.notifier.messages[0].UserID)
	assert.Equal(t, "admin@clinic-a.test", f.notifier.messages[0].Email)

	var logs []auditdomain.AuditLog
	require.NoError(t, f.db.Table("audit_logs").Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, auditdomain.ActionPaymentSucceeded, logs[0].Action)
	assert.Equal(t, txns[0].ID.String(), *logs[0].TargetID)
	assert.Equal(t, invoiceNumber, logs[0].Metadata["invoice_number"])
	assert.Equal(t, "pi_****", logs[0].Metadata["provider_payment_id"])
}

func TestPayUsesPreferredMethodWhenNoneGiven(t *testing.T) {
	f := newFixture(t)
	f.processor.On("CreateCharge", mock.Anything, mock.MatchedBy(func(req paymentdomain.ChargeRequest) bool {
		return req.PaymentMethodRef == "pm_a"
	})).Return(&paymentdomain.Charge{ID: "pi_1", Status: paymentdomain.ChargeStatusSucceeded}, nil).Once()

	res, err := f.svc.Pay(context.Background(), admin(clinicA), paymentdomain.PayInvoiceRequest{InvoiceID: invoiceID.String()})
	require.NoError(t, err)
	assert.True(t, res.Success)
	f.processor.AssertExpectations(t)
}

func TestPayRequiresActionLeavesInvoiceUnpaid(t *testing.T) {
	f := newFixture(t)
	f.processor.On("CreateCharge", mock.Anything, mock.Anything).
		Return(&paymentdomain.Charge{ID: "pi_3ds", Status: paymentdomain.ChargeStatusRequiresAction, ClientSecret: "pi_3ds_secret"}, nil).Once()

	res, err := f.svc.Pay(context.Background(), admin(clinicA), payRequest())
	require.NoError(t, err)

	body, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"success": false,
		"requires_action": true,
		"client_secret": "pi_3ds_secret",
		"payment_intent_id": "pi_3ds"
	}`, string(body))

	assert.Equal(t, invoicedomain.InvoiceStatusSent, f.invoice(t).Status)
	txns := f.transactions(t)
	require.Len(t, txns, 1)
	assert.Equal(t, paymentdomain.TransactionStatusProcessing, txns[0].Status)
	assert.Equal(t, 0, f.notifier.count())
}

func TestPayProcessingReturnsIntent(t *testing.T) {
	f := newFixture(t)
	f.processor.On("CreateCharge", mock.Anything, mock.Anything).
		Return(&paymentdomain.Charge{ID: "pi_slow", Status: paymentdomain.ChargeStatusProcessing}, nil).Once()

	res, err := f.svc.Pay(context.Background(), admin(clinicA), payRequest())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.Processing)
	assert.False(t, res.RequiresAction)
	assert.Equal(t, "pi_slow", res.PaymentIntentID)
	assert.Empty(t, res.ClientSecret)
	assert.Equal(t, invoicedomain.InvoiceStatusSent, f.invoice(t).Status)
}

func TestPayForeignPaymentMethodRejectedBeforeCharge(t *testing.T) {
	f := newFixture(t)

	// An id owned by another clinic and an id owned by nobody answer the
	// same way, so callers cannot discover which ids exist.
	for _, id := range []snowflake.ID{methodB, snowflake.ID(999999)} {
		_, err := f.svc.Pay(context.Background(), admin(clinicA), paymentdomain.PayInvoiceRequest{
			InvoiceID:       invoiceID.String(),
			PaymentMethodID: id.String(),
		})
		assert.ErrorIs(t, err, paymentmethoddomain.ErrForbidden, "method %s", id)
	}
	f.processor.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
	assert.Empty(t, f.transactions(t))
	assert.Equal(t, invoicedomain.InvoiceStatusSent, f.invoice(t).Status)
}

func TestPayOtherTenantsInvoiceIsNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Pay(context.Background(), admin(clinicB), paymentdomain.PayInvoiceRequest{
		InvoiceID:       invoiceID.String(),
		PaymentMethodID: methodB.String(),
	})
	assert.ErrorIs(t, err, invoicedomain.ErrNotFound)
	f.processor.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
}

func TestPayProcessorErrorMarksTransactionFailed(t *testing.T) {
	f := newFixture(t)
	f.processor.On("CreateCharge", mock.Anything, mock.Anything).
		Return(nil, errors.New("stripe: status 402: card_declined")).Once()

	_, err := f.svc.Pay(context.Background(), admin(clinicA), payRequest())
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentFailed)

	txns := f.transactions(t)
	require.Len(t, txns, 1)
	assert.Equal(t, paymentdomain.TransactionStatusFailed, txns[0].Status)
	require.NotNil(t, txns[0].FailureReason)
	assert.Contains(t, *txns[0].FailureReason, "card_declined")
	assert.Equal(t, invoicedomain.InvoiceStatusSent, f.invoice(t).Status)
}

func TestPayNonSuccessStatusMarksTransactionFailed(t *testing.T) {
	f := newFixture(t)
	f.processor.On("CreateCharge", mock.Anything, mock.Anything).
		Return(&paymentdomain.Charge{ID: "pi_x", Status: "requires_payment_method", FailureMessage: "Your card was declined."}, nil).Once()

	_, err := f.svc.Pay(context.Background(), admin(clinicA), payRequest())
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentFailed)

	txns := f.transactions(t)
	require.Len(t, txns, 1)
	assert.Equal(t, paymentdomain.TransactionStatusFailed, txns[0].Status)
	assert.Equal(t, "Your card was declined.", *txns[0].FailureReason)
	assert.Equal(t, invoicedomain.InvoiceStatusSent, f.invoice(t).Status)
}

func TestPayRejectsSettledInvoices(t *testing.T) {
	tests := []struct {
		status invoicedomain.InvoiceStatus
		want   error
	}{
		{invoicedomain.InvoiceStatusPaid, invoicedomain.ErrAlreadyPaid},
		{invoicedomain.InvoiceStatusVoid, invoicedomain.ErrAlreadyVoid},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			f := newFixture(t)
			_, err := f.scoped(t, clinicA).Update(context.Background(), "platform_invoices",
				map[string]any{"status": tt.status}, tenantdb.ByID(invoiceID), tenantdb.WriteOptions{})
			require.NoError(t, err)

			_, err = f.svc.Pay(context.Background(), admin(clinicA), payRequest())
			assert.ErrorIs(t, err, tt.want)
			f.processor.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
		})
	}
}

func TestPayValidatesInputAndRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Pay(ctx, admin(clinicA), paymentdomain.PayInvoiceRequest{InvoiceID: "nope"})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidInvoiceID)

	_, err = f.svc.Pay(ctx, admin(clinicA), paymentdomain.PayInvoiceRequest{InvoiceID: invoiceID.String(), PaymentMethodID: "x"})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPaymentMethodID)

	staff := requestctx.Caller{TenantID: clinicA, UserID: "staff-1", Role: requestctx.RoleStaff}
	_, err = f.svc.Pay(ctx, staff, payRequest())
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	_, err = f.svc.Pay(ctx, requestctx.Caller{}, payRequest())
	assert.ErrorIs(t, err, requestctx.ErrUnauthenticated)

	f.processor.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
}

func TestPayInactiveMethodNotChargeable(t *testing.T) {
	f := newFixture(t)
	_, err := f.scoped(t, clinicA).Update(context.Background(), "payment_methods",
		map[string]any{"is_active": false}, tenantdb.ByID(methodA), tenantdb.WriteOptions{})
	require.NoError(t, err)

	_, err = f.svc.Pay(context.Background(), admin(clinicA), payRequest())
	assert.ErrorIs(t, err, paymentmethoddomain.ErrNotChargeable)

	_, err = f.svc.Pay(context.Background(), admin(clinicA), paymentdomain.PayInvoiceRequest{InvoiceID: invoiceID.String()})
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentMethodRequired)
	f.processor.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
}

func TestMarkSucceededIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.processor.On("CreateCharge", mock.Anything, mock.Anything).
		Return(&paymentdomain.Charge{ID: "pi_1", Status: paymentdomain.ChargeStatusSucceeded}, nil).Once()

	_, err := f.svc.Pay(context.Background(), admin(clinicA), payRequest())
	require.NoError(t, err)
	paidAt := f.invoice(t).PaidAt

	// the webhook for the same charge arrives afterwards
	applied, err := f.svc.MarkSucceeded(context.Background(), f.scoped(t, clinicA),
		paymentdomain.TransactionRef{ProviderPaymentID: "pi_1"}, &paymentdomain.Charge{ID: "pi_1"})
	require.NoError(t, err)
	assert.False(t, applied)

	assert.Equal(t, paidAt, f.invoice(t).PaidAt)
	assert.EqualValues(t, 1, f.method(t).UsageCount)
	assert.Equal(t, 1, f.notifier.count())
}

func TestMarkSucceededSkipsPaidInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.scoped(t, clinicA)
	txn := paymentdomain.Transaction{
		ID: 500, InvoiceID: invoiceID, Provider: "stripe", Amount: decimal.NewFromInt(198000),
		Currency: "PYG", Status: paymentdomain.TransactionStatusProcessing, CreatedAt: testNow, UpdatedAt: testNow,
	}
	require.NoError(t, a.Insert(ctx, "payment_transactions", &txn, tenantdb.WriteOptions{}))
	_, err := a.Update(ctx, "platform_invoices", map[string]any{"status": invoicedomain.InvoiceStatusPaid}, tenantdb.ByID(invoiceID), tenantdb.WriteOptions{})
	require.NoError(t, err)

	applied, err := f.svc.MarkSucceeded(ctx, a, paymentdomain.TransactionRef{ID: 500}, nil)
	require.NoError(t, err)
	assert.False(t, applied)

	txns := f.transactions(t)
	require.Len(t, txns, 1)
	assert.Equal(t, paymentdomain.TransactionStatusProcessing, txns[0].Status)
	for _, c := range f.commissions(t) {
		assert.NotEqual(t, invoicedomain.CommissionStatusPaid, c.Status)
	}
	assert.Equal(t, 0, f.notifier.count())
}

func TestMarkSucceededRollsBackPartialSettlement(t *testing.T) {
	cases := []struct {
		name      string
		breakStep func(f *fixture)
	}{
		{name: "ledger update fails", breakStep: func(f *fixture) {
			f.svc.repo = &flakyLedger{Repository: f.svc.repo}
		}},
		{name: "commission update fails after invoice is paid", breakStep: func(f *fixture) {
			f.svc.invoices = &flakyInvoices{Repository: f.svc.invoices}
		}},
		{name: "usage update fails", breakStep: func(f *fixture) {
			f.svc.methods = &flakyMethods{Repository: f.svc.methods}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.seedProcessingTxn(t, 555, "pi_555")
			tc.breakStep(f)
			a := f.scoped(t, clinicA)
			ref := paymentdomain.TransactionRef{ProviderPaymentID: "pi_555"}
			charge := &paymentdomain.Charge{ID: "pi_555", LatestChargeRef: "ch_555"}

			applied, err := f.svc.MarkSucceeded(ctx, a, ref, charge)
			require.ErrorIs(t, err, errStore)
			assert.False(t, applied)

			assert.Equal(t, invoicedomain.InvoiceStatusSent, f.invoice(t).Status)
			txns := f.transactions(t)
			require.Len(t, txns, 1)
			assert.Equal(t, paymentdomain.TransactionStatusProcessing, txns[0].Status)
			commissions := f.commissions(t)
			require.Len(t, commissions, 2)
			assert.Equal(t, invoicedomain.CommissionStatusInvoiced, commissions[0].Status)
			assert.Equal(t, invoicedomain.CommissionStatusPending, commissions[1].Status)
			assert.EqualValues(t, 0, f.method(t).UsageCount)
			assert.Equal(t, 0, f.notifier.count())
			assert.Empty(t, f.auditActions(t))

			// the webhook redelivery converges everything
			applied, err = f.svc.MarkSucceeded(ctx, a, ref, charge)
			require.NoError(t, err)
			assert.True(t, applied)

			assert.Equal(t, invoicedomain.InvoiceStatusPaid, f.invoice(t).Status)
			txns = f.transactions(t)
			require.Len(t, txns, 1)
			assert.Equal(t, paymentdomain.TransactionStatusSucceeded, txns[0].Status)
			for _, c := range f.commissions(t) {
				assert.Equal(t, invoicedomain.CommissionStatusPaid, c.Status)
			}
			assert.EqualValues(t, 1, f.method(t).UsageCount)
			assert.Equal(t, 1, f.notifier.count())
			assert.Equal(t, []string{auditdomain.ActionPaymentSucceeded}, f.auditActions(t))
		})
	}
}

func TestMarkSucceededOnVoidInvoiceIsFlagged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedProcessingTxn(t, 556, "pi_556")
	a := f.scoped(t, clinicA)
	_, err := a.Update(ctx, "platform_invoices", map[string]any{"status": invoicedomain.InvoiceStatusVoid}, tenantdb.ByID(invoiceID), tenantdb.WriteOptions{})
	require.NoError(t, err)

	applied, err := f.svc.MarkSucceeded(ctx, a, paymentdomain.TransactionRef{ProviderPaymentID: "pi_556"}, &paymentdomain.Charge{ID: "pi_556"})
	require.NoError(t, err)
	assert.False(t, applied)

	assert.Equal(t, invoicedomain.InvoiceStatusVoid, f.invoice(t).Status)
	txns := f.transactions(t)
	require.Len(t, txns, 1)
	assert.Equal(t, paymentdomain.TransactionStatusProcessing, txns[0].Status)
	assert.Equal(t, 0, f.notifier.count())

	var logs []auditdomain.AuditLog
	require.NoError(t, f.db.Table("audit_logs").Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, auditdomain.ActionPaymentUnapplied, logs[0].Action)
	assert.Equal(t, "556", *logs[0].TargetID)
	assert.Equal(t, "void", logs[0].Metadata["invoice_status"])
	assert.Equal(t, "pi_****", logs[0].Metadata["provider_payment_id"])
}

func TestMarkSucceededAfterRefundDoesNotRepay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.processor.On("CreateCharge", mock.Anything, mock.Anything).
		Return(&paymentdomain.Charge{ID: "pi_1", Status: paymentdomain.ChargeStatusSucceeded}, nil).Once()
	_, err := f.svc.Pay(ctx, admin(clinicA), payRequest())
	require.NoError(t, err)
	a := f.scoped(t, clinicA)
	ref := paymentdomain.TransactionRef{ProviderPaymentID: "pi_1"}
	_, err = f.svc.MarkRefunded(ctx, a, ref)
	require.NoError(t, err)

	// a late success event for the refunded charge
	applied, err := f.svc.MarkSucceeded(ctx, a, ref, &paymentdomain.Charge{ID: "pi_1"})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, invoicedomain.InvoiceStatusSent, f.invoice(t).Status)
	assert.Equal(t, paymentdomain.TransactionStatusRefunded, f.transactions(t)[0].Status)
	assert.Equal(t, 1, f.notifier.count())
}

// stalledMailer never finishes a send until release is closed.
type stalledMailer struct {
	release chan struct{}
}

func (m *stalledMailer) SendTemplate(ctx context.Context, to []string, subject string, templateName string, data any) error {
	<-m.release
	return nil
}

func TestPayDoesNotWaitForEmail(t *testing.T) {
	f := newFixture(t)
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	mailer := &stalledMailer{release: make(chan struct{})}
	notifier := notification.New(notification.Params{
		Tenants: tenantdb.NewFactory(f.db),
		Email:   mailer,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clock.NewFakeClock(testNow),
	})
	f.svc.notifier = notifier
	f.processor.On("CreateCharge", mock.Anything, mock.Anything).
		Return(&paymentdomain.Charge{ID: "pi_1", Status: paymentdomain.ChargeStatusSucceeded}, nil).Once()

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Pay(context.Background(), admin(clinicA), payRequest())
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Pay blocked on email delivery")
	}
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, f.invoice(t).Status)

	close(mailer.release)
	require.NoError(t, notifier.Drain(context.Background()))
}

func TestMarkRefundedRevertsSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.processor.On("CreateCharge", mock.Anything, mock.Anything).
		Return(&paymentdomain.Charge{ID: "pi_1", Status: paymentdomain.ChargeStatusSucceeded}, nil).Once()
	_, err := f.svc.Pay(ctx, admin(clinicA), payRequest())
	require.NoError(t, err)

	a := f.scoped(t, clinicA)
	applied, err := f.svc.MarkRefunded(ctx, a, paymentdomain.TransactionRef{ProviderPaymentID: "pi_1"})
	require.NoError(t, err)
	assert.True(t, applied)

	inv := f.invoice(t)
	assert.Equal(t, invoicedomain.InvoiceStatusSent, inv.Status)
	assert.Nil(t, inv.PaidAt)
	for _, c := range f.commissions(t) {
		assert.Equal(t, invoicedomain.CommissionStatusInvoiced, c.Status)
	}
	txns := f.transactions(t)
	require.Len(t, txns, 1)
	assert.Equal(t, paymentdomain.TransactionStatusRefunded, txns[0].Status)

	applied, err = f.svc.MarkRefunded(ctx, a, paymentdomain.TransactionRef{ProviderPaymentID: "pi_1"})
	require.NoError(t, err)
	assert.False(t, applied)

	assert.Equal(t, []string{auditdomain.ActionPaymentSucceeded, auditdomain.ActionPaymentRefunded}, f.auditActions(t))
}

func TestMarkFailedKeepsInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.processor.On("CreateCharge", mock.Anything, mock.Anything).
		Return(&paymentdomain.Charge{ID: "pi_3ds", Status: paymentdomain.ChargeStatusRequiresAction, ClientSecret: "s"}, nil).Once()
	_, err := f.svc.Pay(ctx, admin(clinicA), payRequest())
	require.NoError(t, err)

	err = f.svc.MarkFailed(ctx, f.scoped(t, clinicA), paymentdomain.TransactionRef{ProviderPaymentID: "pi_3ds"}, "authentication_failed")
	require.NoError(t, err)

	txns := f.transactions(t)
	require.Len(t, txns, 1)
	assert.Equal(t, paymentdomain.TransactionStatusFailed, txns[0].Status)
	assert.Equal(t, "authentication_failed", *txns[0].FailureReason)
	assert.Equal(t, invoicedomain.InvoiceStatusSent, f.invoice(t).Status)
	assert.Equal(t, []string{auditdomain.ActionPaymentFailed}, f.auditActions(t))

	err = f.svc.MarkFailed(ctx, f.scoped(t, clinicA), paymentdomain.TransactionRef{ProviderPaymentID: "pi_unknown"}, "x")
	assert.ErrorIs(t, err, paymentdomain.ErrTransactionNotFound)
}

func TestProcessEventSettlesOnceAndDedupes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.processor.On("CreateCharge", mock.Anything, mock.Anything).
		Return(&paymentdomain.Charge{ID: "pi_3ds", Status: paymentdomain.ChargeStatusRequiresAction, ClientSecret: "s"}, nil).Once()
	_, err := f.svc.Pay(ctx, admin(clinicA), payRequest())
	require.NoError(t, err)
	txnID := f.transactions(t)[0].ID

	event := func() *paymentdomain.PaymentEvent {
		id := txnID
		inv := invoiceID
		return &paymentdomain.PaymentEvent{
			Provider:          "stripe",
			ProviderEventID:   "evt_1",
			ProviderPaymentID: "pi_3ds",
			ProviderChargeID:  "ch_9",
			Type:              paymentdomain.EventTypePaymentSucceeded,
			TenantID:          clinicA,
			InvoiceID:         &inv,
			TransactionID:     &id,
			Amount:            198000,
			Currency:          "PYG",
			OccurredAt:        testNow,
			RawPayload:        []byte(`{"id":"evt_1"}`),
		}
	}

	require.NoError(t, f.svc.ProcessEvent(ctx, event()))
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, f.invoice(t).Status)
	txns := f.transactions(t)
	assert.Equal(t, paymentdomain.TransactionStatusSucceeded, txns[0].Status)
	assert.Equal(t, "ch_9", *txns[0].ProviderChargeID)

	err = f.svc.ProcessEvent(ctx, event())
	assert.ErrorIs(t, err, paymentdomain.ErrEventAlreadyProcessed)
	assert.Equal(t, 1, f.notifier.count())
}

func TestProcessEventCannotReachAnotherTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.processor.On("CreateCharge", mock.Anything, mock.Anything).
		Return(&paymentdomain.Charge{ID: "pi_3ds", Status: paymentdomain.ChargeStatusRequiresAction, ClientSecret: "s"}, nil).Once()
	_, err := f.svc.Pay(ctx, admin(clinicA), payRequest())
	require.NoError(t, err)
	txnID := f.transactions(t)[0].ID

	err = f.svc.ProcessEvent(ctx, &paymentdomain.PaymentEvent{
		Provider:          "stripe",
		ProviderEventID:   "evt_forged",
		ProviderPaymentID: "pi_3ds",
		Type:              paymentdomain.EventTypePaymentSucceeded,
		TenantID:          clinicB,
		TransactionID:     &txnID,
		RawPayload:        []byte(`{}`),
	})
	assert.ErrorIs(t, err, paymentdomain.ErrTransactionNotFound)
	assert.Equal(t, invoicedomain.InvoiceStatusSent, f.invoice(t).Status)
}

func TestProcessEventIgnoresPartialRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.processor.On("CreateCharge", mock.Anything, mock.Anything).
		Return(&paymentdomain.Charge{ID: "pi_1", Status: paymentdomain.ChargeStatusSucceeded}, nil).Once()
	_, err := f.svc.Pay(ctx, admin(clinicA), payRequest())
	require.NoError(t, err)

	err = f.svc.ProcessEvent(ctx, &paymentdomain.PaymentEvent{
		Provider:          "stripe",
		ProviderEventID:   "evt_partial",
		ProviderPaymentID: "pi_1",
		Type:              paymentdomain.EventTypeRefunded,
		TenantID:          clinicA,
		Amount:            1000,
		FullyRefunded:     false,
		RawPayload:        []byte(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, f.invoice(t).Status)
}

func TestListTransactionsPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.scoped(t, clinicA)
	for i := 1; i <= 3; i++ {
		require.NoError(t, a.Insert(ctx, "payment_transactions", &paymentdomain.Transaction{
			ID: snowflake.ID(700 + i), InvoiceID: invoiceID, Provider: "stripe", Amount: decimal.NewFromInt(198000),
			Currency: "PYG", Status: paymentdomain.TransactionStatusFailed, CreatedAt: testNow, UpdatedAt: testNow,
		}, tenantdb.WriteOptions{}))
	}

	caller := requestctx.Caller{TenantID: clinicA, UserID: "staff-1", Role: requestctx.RoleStaff}
	page, err := f.svc.ListTransactions(ctx, caller, paymentdomain.ListTransactionsRequest{
		InvoiceID:  invoiceID.String(),
		Pagination: pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	assert.EqualValues(t, 703, page.Transactions[0].ID)
	assert.True(t, page.PageInfo.HasMore)

	next, err := f.svc.ListTransactions(ctx, caller, paymentdomain.ListTransactionsRequest{
		InvoiceID:  invoiceID.String(),
		Pagination: pagination.Pagination{PageSize: 2, PageToken: page.PageInfo.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, next.Transactions, 1)
	assert.EqualValues(t, 701, next.Transactions[0].ID)
	assert.False(t, next.PageInfo.HasMore)

	_, err = f.svc.ListTransactions(ctx, requestctx.Caller{TenantID: clinicB, UserID: "u", Role: requestctx.RoleOwner},
		paymentdomain.ListTransactionsRequest{InvoiceID: invoiceID.String()})
	assert.ErrorIs(t, err, invoicedomain.ErrNotFound)
}
