package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vetclinic/pkg/tenantdb"
)

// PaymentMethod is a card or account a clinic stored with the processor.
// ProviderMethodID is the processor token; the platform never holds card data.
type PaymentMethod struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID           string       `gorm:"column:tenant_id;type:text;not null;index" json:"tenant_id"`
	Provider           string       `gorm:"column:provider;type:text;not null" json:"provider"`
	ProviderCustomerID string       `gorm:"column:provider_customer_id;type:text" json:"-"`
	ProviderMethodID   string       `gorm:"column:provider_method_id;type:text" json:"-"`
	DisplayName        string       `gorm:"column:display_name;type:text;not null" json:"display_name"`
	Brand              string       `gorm:"column:brand;type:text" json:"brand,omitempty"`
	Last4              string       `gorm:"column:last4;type:text" json:"last4,omitempty"`
	IsActive           bool         `gorm:"column:is_active;not null" json:"is_active"`
	UsageCount         int64        `gorm:"column:usage_count;not null" json:"usage_count"`
	LastUsedAt         *time.Time   `gorm:"column:last_used_at" json:"last_used_at,omitempty"`
	CreatedAt          time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"not null" json:"updated_at"`
}

func (PaymentMethod) TableName() string { return "payment_methods" }

func (m *PaymentMethod) SetTenantID(tenantID string) { m.TenantID = tenantID }

// Chargeable reports whether the processor can be asked to charge the method.
func (m PaymentMethod) Chargeable() bool {
	return m.IsActive && strings.TrimSpace(m.ProviderMethodID) != ""
}

// Label is the human readable form stored on a paid invoice.
func (m PaymentMethod) Label() string {
	if name := strings.TrimSpace(m.DisplayName); name != "" {
		return name
	}
	if m.Brand != "" && m.Last4 != "" {
		return m.Brand + " ****" + m.Last4
	}
	return m.Provider
}

var (
	ErrForbidden     = errors.New("payment_method_forbidden")
	ErrNotFound      = errors.New("payment_method_not_found")
	ErrNotChargeable = errors.New("payment_method_not_chargeable")
)

type Repository interface {
	// Verify loads id only when it belongs to the handle's tenant; it returns
	// nil, nil otherwise.
	Verify(ctx context.Context, db *tenantdb.DB, id snowflake.ID) (*PaymentMethod, error)
	// FindPreferred returns the most recently used active method.
	FindPreferred(ctx context.Context, db *tenantdb.DB) (*PaymentMethod, error)
	IncrementUsage(ctx context.Context, db *tenantdb.DB, id snowflake.ID, at time.Time) error
	List(ctx context.Context, db *tenantdb.DB) ([]PaymentMethod, error)
}
