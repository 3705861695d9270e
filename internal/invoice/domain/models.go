// Package domain contains the platform invoice and commission models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft   InvoiceStatus = "draft"
	InvoiceStatusSent    InvoiceStatus = "sent"
	InvoiceStatusPartial InvoiceStatus = "partial"
	InvoiceStatusOverdue InvoiceStatus = "overdue"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusVoid    InvoiceStatus = "void"
)

// PayableStatuses are the states from which an invoice may become paid.
var PayableStatuses = []InvoiceStatus{
	InvoiceStatusDraft,
	InvoiceStatusSent,
	InvoiceStatusPartial,
	InvoiceStatusOverdue,
}

func (s InvoiceStatus) Payable() bool {
	for _, status := range PayableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (s InvoiceStatus) Voidable() bool {
	return s != InvoiceStatusPaid && s != InvoiceStatusVoid
}

// Invoice is what the platform bills a clinic.
type Invoice struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id"`
	TenantID      string          `gorm:"column:tenant_id;type:text;not null;index" json:"tenant_id"`
	InvoiceNumber string          `gorm:"column:invoice_number;type:text;not null" json:"invoice_number"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	Currency      string          `gorm:"column:currency;type:text;not null" json:"currency"`
	Status        InvoiceStatus   `gorm:"column:status;type:text;not null" json:"status"`
	PaymentMethod *string         `gorm:"column:payment_method;type:text" json:"payment_method,omitempty"`
	DueAt         *time.Time      `gorm:"column:due_at" json:"due_at,omitempty"`
	PaidAt        *time.Time      `gorm:"column:paid_at" json:"paid_at,omitempty"`
	CreatedAt     time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "platform_invoices" }

func (i *Invoice) SetTenantID(tenantID string) { i.TenantID = tenantID }

type CommissionStatus string

const (
	CommissionStatusPending  CommissionStatus = "pending"
	CommissionStatusInvoiced CommissionStatus = "invoiced"
	CommissionStatusPaid     CommissionStatus = "paid"
)

// Commission is a platform fee accrued by a clinic and settled through an
// invoice.
type Commission struct {
	ID        snowflake.ID     `gorm:"primaryKey" json:"id"`
	TenantID  string           `gorm:"column:tenant_id;type:text;not null;index" json:"tenant_id"`
	InvoiceID *snowflake.ID    `gorm:"column:invoice_id;index" json:"invoice_id,omitempty"`
	Amount    decimal.Decimal  `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	Status    CommissionStatus `gorm:"column:status;type:text;not null" json:"status"`
	PaidAt    *time.Time       `gorm:"column:paid_at" json:"paid_at,omitempty"`
	CreatedAt time.Time        `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time        `gorm:"not null" json:"updated_at"`
}

func (Commission) TableName() string { return "commissions" }

func (c *Commission) SetTenantID(tenantID string) { c.TenantID = tenantID }
