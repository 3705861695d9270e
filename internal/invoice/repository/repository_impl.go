package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vetclinic/internal/invoice/domain"
	"github.com/smallbiznis/vetclinic/pkg/tenantdb"
)

const (
	invoicesTable    = "platform_invoices"
	commissionsTable = "commissions"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *tenantdb.DB, id snowflake.ID) (*domain.Invoice, error) {
	return tenantdb.SelectOne[domain.Invoice](ctx, db, invoicesTable, tenantdb.SelectOptions{
		Filter: tenantdb.ByID(id),
	})
}

// MarkPaid moves a payable invoice to paid. It reports false when the
// invoice was already paid or voided, which makes concurrent settlements
// collapse onto a single winner.
func (r *repo) MarkPaid(ctx context.Context, db *tenantdb.DB, id snowflake.ID, paidAt time.Time, methodLabel string) (bool, error) {
	data := map[string]any{
		"status":     domain.InvoiceStatusPaid,
		"paid_at":    paidAt,
		"updated_at": paidAt,
	}
	if methodLabel != "" {
		data["payment_method"] = methodLabel
	}
	rows, err := db.Update(ctx, invoicesTable, data,
		tenantdb.And(tenantdb.ByID(id), tenantdb.In("status", statusValues(domain.PayableStatuses)...)),
		tenantdb.WriteOptions{},
	)
	return rows > 0, err
}

func (r *repo) ReopenAfterRefund(ctx context.Context, db *tenantdb.DB, id snowflake.ID, at time.Time) (bool, error) {
	rows, err := db.Update(ctx, invoicesTable, map[string]any{
		"status":     domain.InvoiceStatusSent,
		"paid_at":    nil,
		"updated_at": at,
	}, tenantdb.And(tenantdb.ByID(id), tenantdb.Eq("status", domain.InvoiceStatusPaid)), tenantdb.WriteOptions{})
	return rows > 0, err
}

func (r *repo) MarkVoid(ctx context.Context, db *tenantdb.DB, id snowflake.ID, at time.Time) (bool, error) {
	rows, err := db.Update(ctx, invoicesTable, map[string]any{
		"status":     domain.InvoiceStatusVoid,
		"updated_at": at,
	}, tenantdb.And(
		tenantdb.ByID(id),
		tenantdb.In("status", statusValues(domain.PayableStatuses)...),
	), tenantdb.WriteOptions{})
	return rows > 0, err
}

func (r *repo) MarkCommissionsPaid(ctx context.Context, db *tenantdb.DB, invoiceID snowflake.ID, at time.Time) (int64, error) {
	return db.Update(ctx, commissionsTable, map[string]any{
		"status":     domain.CommissionStatusPaid,
		"paid_at":    at,
		"updated_at": at,
	}, tenantdb.And(
		tenantdb.Eq("invoice_id", invoiceID),
		tenantdb.In("status", domain.CommissionStatusPending, domain.CommissionStatusInvoiced),
	), tenantdb.WriteOptions{})
}

func (r *repo) RevertCommissions(ctx context.Context, db *tenantdb.DB, invoiceID snowflake.ID, at time.Time) (int64, error) {
	return db.Update(ctx, commissionsTable, map[string]any{
		"status":     domain.CommissionStatusInvoiced,
		"paid_at":    nil,
		"updated_at": at,
	}, tenantdb.And(
		tenantdb.Eq("invoice_id", invoiceID),
		tenantdb.Eq("status", domain.CommissionStatusPaid),
	), tenantdb.WriteOptions{})
}

func (r *repo) ListCommissions(ctx context.Context, db *tenantdb.DB, invoiceID snowflake.ID) ([]domain.Commission, error) {
	return tenantdb.SelectAll[domain.Commission](ctx, db, commissionsTable, tenantdb.SelectOptions{
		Filter: tenantdb.Eq("invoice_id", invoiceID),
		Order:  "id",
	})
}

func statusValues(statuses []domain.InvoiceStatus) []any {
	out := make([]any, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, s)
	}
	return out
}
