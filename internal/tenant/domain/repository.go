package domain

import (
	"context"

	"github.com/smallbiznis/vetclinic/pkg/tenantdb"
	"gorm.io/gorm"
)

type Repository interface {
	InsertTenant(ctx context.Context, db *gorm.DB, tenant *Tenant) error
	FindTenant(ctx context.Context, db *gorm.DB, id string) (*Tenant, error)
	InsertMember(ctx context.Context, db *tenantdb.DB, member *Member) error
	FindMember(ctx context.Context, db *tenantdb.DB, userID string) (*Member, error)
	FindPrimaryAdmin(ctx context.Context, db *tenantdb.DB) (*Member, error)
}
