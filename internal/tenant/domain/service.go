package domain

import (
	"context"
	"errors"
)

type CreateTenantRequest struct {
	Name        string
	Slug        string
	AdminUserID string
	AdminEmail  string
	Plan        string
}

type Service interface {
	Create(ctx context.Context, req CreateTenantRequest) (Tenant, error)
	Get(ctx context.Context, id string) (Tenant, error)
	PrimaryAdmin(ctx context.Context, tenantID string) (*Member, error)
}

var (
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidSlug  = errors.New("invalid_slug")
	ErrInvalidAdmin = errors.New("invalid_admin")
	ErrSlugTaken    = errors.New("slug_taken")
	ErrNotFound     = errors.New("not_found")
)
