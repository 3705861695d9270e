package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vetclinic/pkg/tenantdb"
)

// Repository methods receive the caller's tenant handle; none of them can
// reach another tenant's rows. The Mark* and Reopen methods are conditional
// updates that report whether the row changed.
type Repository interface {
	FindByID(ctx context.Context, db *tenantdb.DB, id snowflake.ID) (*Invoice, error)
	MarkPaid(ctx context.Context, db *tenantdb.DB, id snowflake.ID, paidAt time.Time, methodLabel string) (bool, error)
	ReopenAfterRefund(ctx context.Context, db *tenantdb.DB, id snowflake.ID, at time.Time) (bool, error)
	MarkVoid(ctx context.Context, db *tenantdb.DB, id snowflake.ID, at time.Time) (bool, error)
	MarkCommissionsPaid(ctx context.Context, db *tenantdb.DB, invoiceID snowflake.ID, at time.Time) (int64, error)
	RevertCommissions(ctx context.Context, db *tenantdb.DB, invoiceID snowflake.ID, at time.Time) (int64, error)
	ListCommissions(ctx context.Context, db *tenantdb.DB, invoiceID snowflake.ID) ([]Commission, error)
}
