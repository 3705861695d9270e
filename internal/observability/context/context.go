// Package context carries request scoped observability fields.
package context

import (
	"context"
	"strings"

	"github.com/smallbiznis/vetclinic/pkg/tenantctx"
)

type requestIDKey struct{}
type actorKey struct{}

type actor struct {
	userID string
	role   string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return tenantctx.WithTenantID(ctx, tenantID)
}

func TenantIDFromContext(ctx context.Context) string {
	id, _ := tenantctx.TenantID(ctx)
	return id
}

func WithActor(ctx context.Context, userID, role string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{
		userID: strings.TrimSpace(userID),
		role:   strings.TrimSpace(role),
	})
}

// ActorFromContext returns the user id and role of the caller, if any.
func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	a, _ := ctx.Value(actorKey{}).(actor)
	return a.userID, a.role
}
