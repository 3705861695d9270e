package repository

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/vetclinic/internal/paymentmethod/domain"
	"github.com/smallbiznis/vetclinic/internal/testsupport"
	"github.com/smallbiznis/vetclinic/pkg/tenantdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyHidesOtherTenantsMethods(t *testing.T) {
	ctx := context.Background()
	db := testsupport.OpenSQLite(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	owner, err := tenantdb.New(db, "clinic-a")
	require.NoError(t, err)
	other, err := tenantdb.New(db, "clinic-b")
	require.NoError(t, err)

	require.NoError(t, owner.Insert(ctx, table, &domain.PaymentMethod{
		ID: 11, Provider: "stripe", ProviderCustomerID: "cus_a", ProviderMethodID: "pm_a",
		DisplayName: "Visa ****4242", IsActive: true, CreatedAt: now, UpdatedAt: now,
	}, tenantdb.WriteOptions{}))

	r := Provide()
	method, err := r.Verify(ctx, owner, 11)
	require.NoError(t, err)
	require.NotNil(t, method)
	assert.Equal(t, "pm_a", method.ProviderMethodID)
	assert.True(t, method.Chargeable())

	method, err = r.Verify(ctx, other, 11)
	require.NoError(t, err)
	assert.Nil(t, method)
}

func TestFindPreferredAndIncrementUsage(t *testing.T) {
	ctx := context.Background()
	db := testsupport.OpenSQLite(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	earlier := now.Add(-48 * time.Hour)
	tdb, err := tenantdb.New(db, "clinic-a")
	require.NoError(t, err)

	methods := []domain.PaymentMethod{
		{ID: 1, Provider: "stripe", ProviderMethodID: "pm_old", DisplayName: "Old", IsActive: true, LastUsedAt: &earlier, CreatedAt: now, UpdatedAt: now},
		{ID: 2, Provider: "stripe", ProviderMethodID: "pm_new", DisplayName: "New", IsActive: true, LastUsedAt: &now, CreatedAt: now, UpdatedAt: now},
		{ID: 3, Provider: "stripe", ProviderMethodID: "pm_off", DisplayName: "Off", IsActive: false, CreatedAt: now, UpdatedAt: now},
	}
	require.NoError(t, tdb.Insert(ctx, table, &methods, tenantdb.WriteOptions{}))

	r := Provide()
	preferred, err := r.FindPreferred(ctx, tdb)
	require.NoError(t, err)
	require.NotNil(t, preferred)
	assert.EqualValues(t, 2, preferred.ID)

	later := now.Add(time.Hour)
	require.NoError(t, r.IncrementUsage(ctx, tdb, 1, later))
	require.NoError(t, r.IncrementUsage(ctx, tdb, 1, later))

	preferred, err = r.FindPreferred(ctx, tdb)
	require.NoError(t, err)
	assert.EqualValues(t, 1, preferred.ID)
	assert.EqualValues(t, 2, preferred.UsageCount)

	all, err := r.List(ctx, tdb)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
