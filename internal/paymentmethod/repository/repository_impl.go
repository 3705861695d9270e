package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vetclinic/internal/paymentmethod/domain"
	"github.com/smallbiznis/vetclinic/pkg/tenantdb"
	"gorm.io/gorm"
)

const table = "payment_methods"

var verifyColumns = []string{
	"id", "tenant_id", "provider", "provider_customer_id", "provider_method_id",
	"display_name", "brand", "last4", "is_active", "usage_count", "last_used_at",
	"created_at", "updated_at",
}

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Verify(ctx context.Context, db *tenantdb.DB, id snowflake.ID) (*domain.PaymentMethod, error) {
	var method domain.PaymentMethod
	ok, err := db.Verify(ctx, table, id, verifyColumns, &method)
	if err != nil || !ok {
		return nil, err
	}
	return &method, nil
}

func (r *repo) FindPreferred(ctx context.Context, db *tenantdb.DB) (*domain.PaymentMethod, error) {
	return tenantdb.SelectOne[domain.PaymentMethod](ctx, db, table, tenantdb.SelectOptions{
		Filter: tenantdb.Eq("is_active", true),
		Order:  "last_used_at IS NULL, last_used_at DESC, id DESC",
	})
}

func (r *repo) IncrementUsage(ctx context.Context, db *tenantdb.DB, id snowflake.ID, at time.Time) error {
	_, err := db.Update(ctx, table, map[string]any{
		"usage_count":  gorm.Expr("usage_count + ?", 1),
		"last_used_at": at,
		"updated_at":   at,
	}, tenantdb.ByID(id), tenantdb.WriteOptions{})
	return err
}

func (r *repo) List(ctx context.Context, db *tenantdb.DB) ([]domain.PaymentMethod, error) {
	return tenantdb.SelectAll[domain.PaymentMethod](ctx, db, table, tenantdb.SelectOptions{
		Order: "created_at DESC",
	})
}
