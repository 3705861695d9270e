package authorization

import (
	"context"
	"testing"

	"github.com/smallbiznis/vetclinic/internal/requestctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	enforcer, err := NewMemoryEnforcer()
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestAuthorizeByRole(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		role    requestctx.Role
		object  string
		action  string
		allowed bool
	}{
		{requestctx.RoleOwner, ObjectInvoice, ActionInvoicePay, true},
		{requestctx.RoleOwner, ObjectInvoice, ActionInvoiceView, true},
		{requestctx.RoleOwner, ObjectAudit, ActionAuditView, true},
		{requestctx.RoleAdmin, ObjectInvoice, ActionInvoicePay, true},
		{requestctx.RoleAdmin, ObjectInvoice, ActionInvoiceVoid, true},
		{requestctx.RoleAdmin, ObjectAudit, ActionAuditView, true},
		{requestctx.RoleStaff, ObjectInvoice, ActionInvoiceView, true},
		{requestctx.RoleStaff, ObjectInvoice, ActionInvoicePay, false},
		{requestctx.RoleStaff, ObjectInvoice, ActionInvoiceVoid, false},
		{requestctx.RoleStaff, ObjectAudit, ActionAuditView, false},
		{requestctx.RoleAdmin, ObjectAudit, ActionInvoicePay, false},
	}
	for _, tc := range cases {
		caller := requestctx.Caller{TenantID: "clinic-a", UserID: "u1", Role: tc.role}
		err := svc.Authorize(ctx, caller, tc.object, tc.action)
		if tc.allowed {
			assert.NoError(t, err, "%s %s", tc.role, tc.action)
		} else {
			assert.ErrorIs(t, err, ErrForbidden, "%s %s", tc.role, tc.action)
		}
	}
}

func TestAuthorizeRejectsInvalidInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	caller := requestctx.Caller{TenantID: "clinic-a", UserID: "u1", Role: requestctx.RoleAdmin}

	assert.ErrorIs(t, svc.Authorize(ctx, requestctx.Caller{}, ObjectInvoice, ActionInvoicePay), requestctx.ErrUnauthenticated)
	assert.ErrorIs(t, svc.Authorize(ctx, caller, "", ActionInvoicePay), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, caller, ObjectInvoice, " "), ErrInvalidAction)
}

func TestSeedPoliciesIsIdempotent(t *testing.T) {
	enforcer, err := NewMemoryEnforcer()
	require.NoError(t, err)
	before, err := enforcer.GetPolicy()
	require.NoError(t, err)

	require.NoError(t, seedPolicies(enforcer))
	after, err := enforcer.GetPolicy()
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
}
