package repository

import (
	"context"

	"github.com/smallbiznis/vetclinic/internal/tenant/domain"
	"github.com/smallbiznis/vetclinic/pkg/tenantdb"
	"gorm.io/gorm"
)

const membersTable = "tenant_members"

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertTenant(ctx context.Context, db *gorm.DB, tenant *domain.Tenant) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO tenants (id, name, status, plan, plan_expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tenant.ID,
		tenant.Name,
		tenant.Status,
		tenant.Plan,
		tenant.PlanExpiresAt,
		tenant.CreatedAt,
		tenant.UpdatedAt,
	).Error
}

func (r *repo) FindTenant(ctx context.Context, db *gorm.DB, id string) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, status, plan, plan_expires_at, created_at, updated_at
		 FROM tenants WHERE id = ?`,
		id,
	).Scan(&tenant).Error
	if err != nil {
		return nil, err
	}
	if tenant.ID == "" {
		return nil, nil
	}
	return &tenant, nil
}

func (r *repo) InsertMember(ctx context.Context, db *tenantdb.DB, member *domain.Member) error {
	return db.Insert(ctx, membersTable, member, tenantdb.WriteOptions{})
}

func (r *repo) FindMember(ctx context.Context, db *tenantdb.DB, userID string) (*domain.Member, error) {
	return tenantdb.SelectOne[domain.Member](ctx, db, membersTable, tenantdb.SelectOptions{
		Filter: tenantdb.Eq("user_id", userID),
	})
}

// FindPrimaryAdmin returns the member flagged as primary admin, falling back
// to the oldest owner.
func (r *repo) FindPrimaryAdmin(ctx context.Context, db *tenantdb.DB) (*domain.Member, error) {
	member, err := tenantdb.SelectOne[domain.Member](ctx, db, membersTable, tenantdb.SelectOptions{
		Filter: tenantdb.Eq("is_primary_admin", true),
		Order:  "created_at asc",
	})
	if err != nil || member != nil {
		return member, err
	}
	return tenantdb.SelectOne[domain.Member](ctx, db, membersTable, tenantdb.SelectOptions{
		Filter: tenantdb.Eq("role", "owner"),
		Order:  "created_at asc",
	})
}
