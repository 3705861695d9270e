package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusTrial   Status = "trial"
	StatusClaimed Status = "claimed"
	StatusActive  Status = "active"
)

// Tenant is a clinic. Its id is the URL slug.
type Tenant struct {
	ID            string     `gorm:"primaryKey;type:text" json:"id"`
	Name          string     `gorm:"not null" json:"name"`
	Status        Status     `gorm:"type:text;not null" json:"status"`
	Plan          string     `gorm:"type:text" json:"plan,omitempty"`
	PlanExpiresAt *time.Time `json:"plan_expires_at,omitempty"`
	CreatedAt     time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"not null" json:"updated_at"`
}

func (Tenant) TableName() string { return "tenants" }

type Member struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID       string       `gorm:"column:tenant_id;type:text;not null;index" json:"tenant_id"`
	UserID         string       `gorm:"column:user_id;type:text;not null" json:"user_id"`
	Email          string       `gorm:"column:email;type:text" json:"email,omitempty"`
	Role           string       `gorm:"column:role;type:text;not null" json:"role"`
	IsPrimaryAdmin bool         `gorm:"column:is_primary_admin;not null" json:"is_primary_admin"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
}

func (Member) TableName() string { return "tenant_members" }

func (m *Member) SetTenantID(tenantID string) { m.TenantID = tenantID }
