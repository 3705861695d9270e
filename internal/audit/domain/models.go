package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vetclinic/internal/requestctx"
	"github.com/smallbiznis/vetclinic/pkg/db/pagination"
	"github.com/smallbiznis/vetclinic/pkg/tenantdb"
	"gorm.io/datatypes"
)

const (
	ActorUser   = "user"
	ActorSystem = "system"
)

const (
	ActionInvoiceVoided    = "invoice.voided"
	ActionPaymentSucceeded = "payment.succeeded"
	ActionPaymentFailed    = "payment.failed"
	ActionPaymentRefunded  = "payment.refunded"
	// ActionPaymentUnapplied marks a captured charge whose invoice could not
	// take it, such as a void invoice. The charge needs a manual refund.
	ActionPaymentUnapplied = "payment.unapplied"
)

type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	TenantID   string            `gorm:"column:tenant_id;type:text;not null;index" json:"tenant_id"`
	ActorType  string            `gorm:"column:actor_type;type:text;not null" json:"actor_type"`
	ActorID    *string           `gorm:"column:actor_id;type:text" json:"actor_id,omitempty"`
	Action     string            `gorm:"column:action;type:text;not null" json:"action"`
	TargetType string            `gorm:"column:target_type;type:text;not null" json:"target_type"`
	TargetID   *string           `gorm:"column:target_id;type:text" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"not null" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

func (a *AuditLog) SetTenantID(tenantID string) { a.TenantID = tenantID }

// Entry describes one auditable change. Secrets are masked before they are
// stored; Metadata is kept verbatim.
type Entry struct {
	ActorType  string
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
	Secrets    map[string]any
}

type ListRequest struct {
	pagination.Pagination
	Action   string `form:"action"`
	TargetID string `form:"target_id"`
}

type ListResponse struct {
	AuditLogs []AuditLog          `json:"audit_logs"`
	PageInfo  pagination.PageInfo `json:"page_info"`
}

type ListFilter struct {
	Action   string
	TargetID string
	Cursor   *pagination.Cursor
	Limit    int
}

type Service interface {
	// Record writes an entry in db's tenant. Failures are logged and
	// returned; callers treat auditing as best effort.
	Record(ctx context.Context, db *tenantdb.DB, entry Entry) error
	List(ctx context.Context, caller requestctx.Caller, req ListRequest) (ListResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *tenantdb.DB, entry *AuditLog) error
	List(ctx context.Context, db *tenantdb.DB, filter ListFilter) ([]AuditLog, error)
}

var (
	ErrInvalidAction = errors.New("invalid_action")
)
