// Package requestctx defines the explicit caller every operation receives.
package requestctx

import (
	"errors"
	"strings"
)

type Role string

const (
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
	RoleStaff Role = "staff"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidRole     = errors.New("invalid_role")
)

// Caller identifies who is acting and on behalf of which tenant.
type Caller struct {
	TenantID string
	UserID   string
	Role     Role
}

func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleOwner:
		return RoleOwner, nil
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleStaff:
		return RoleStaff, nil
	default:
		return "", ErrInvalidRole
	}
}

// Validate rejects callers missing a tenant, a user or a known role.
func (c Caller) Validate() error {
	if strings.TrimSpace(c.TenantID) == "" || strings.TrimSpace(c.UserID) == "" {
		return ErrUnauthenticated
	}
	if _, err := ParseRole(string(c.Role)); err != nil {
		return err
	}
	return nil
}
