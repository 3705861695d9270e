package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/vetclinic/internal/clock"
	"github.com/smallbiznis/vetclinic/internal/tenant/domain"
	"github.com/smallbiznis/vetclinic/internal/tenant/repository"
	"github.com/smallbiznis/vetclinic/pkg/tenantdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTenantDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:tenant_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	stmts := []string{
		`CREATE TABLE tenants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			plan TEXT,
			plan_expires_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE tenant_members (
			id INTEGER PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			email TEXT,
			role TEXT NOT NULL,
			is_primary_admin BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return New(Params{
		DB:      db,
		Tenants: tenantdb.NewFactory(db),
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Repo:    repository.Provide(),
	}).(*Service)
}

func TestCreateTenantWithPrimaryAdmin(t *testing.T) {
	db := setupTenantDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	tenant, err := svc.Create(ctx, domain.CreateTenantRequest{
		Name:        "Clínica Veterinaria San Roque",
		AdminUserID: "user-1",
		AdminEmail:  "admin@sanroque.com.py",
	})
	require.NoError(t, err)
	assert.Equal(t, "clinica-veterinaria-san-roque", tenant.ID)
	assert.Equal(t, domain.StatusTrial, tenant.Status)

	admin, err := svc.PrimaryAdmin(ctx, tenant.ID)
	require.NoError(t, err)
	require.NotNil(t, admin)
	assert.Equal(t, "user-1", admin.UserID)
	assert.Equal(t, tenant.ID, admin.TenantID)

	_, err = svc.Create(ctx, domain.CreateTenantRequest{Name: "Clinica Veterinaria San Roque", AdminUserID: "user-2"})
	assert.ErrorIs(t, err, domain.ErrSlugTaken)
}

func TestCreateTenantValidation(t *testing.T) {
	db := setupTenantDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateTenantRequest{Name: " ", AdminUserID: "u"})
	assert.ErrorIs(t, err, domain.ErrInvalidName)

	_, err = svc.Create(ctx, domain.CreateTenantRequest{Name: "Clinic", AdminUserID: ""})
	assert.ErrorIs(t, err, domain.ErrInvalidAdmin)

	_, err = svc.Create(ctx, domain.CreateTenantRequest{Name: "Clinic", Slug: "!!!", AdminUserID: "u"})
	assert.ErrorIs(t, err, domain.ErrInvalidSlug)
}

func TestGetTenant(t *testing.T) {
	db := setupTenantDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	_, err := svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	created, err := svc.Create(ctx, domain.CreateTenantRequest{Name: "Pet Care", Slug: "pet-care", AdminUserID: "u"})
	require.NoError(t, err)
	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pet Care", got.Name)
}

func TestPrimaryAdminIsTenantScoped(t *testing.T) {
	db := setupTenantDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateTenantRequest{Name: "Alpha", AdminUserID: "alpha-admin"})
	require.NoError(t, err)

	admin, err := svc.PrimaryAdmin(ctx, "beta")
	require.NoError(t, err)
	assert.Nil(t, admin)

	_, err = svc.PrimaryAdmin(ctx, "")
	assert.ErrorIs(t, err, tenantdb.ErrMissingTenant)
}

func TestNormalizeSlugTruncates(t *testing.T) {
	long := "Hospital Veterinario Integral de Pequeños y Grandes Animales del Paraguay"
	value, err := NormalizeSlug("", long)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(value), maxSlugLength)
	assert.NotEqual(t, '-', rune(value[len(value)-1]))
}
