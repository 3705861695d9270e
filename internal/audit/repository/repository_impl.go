package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vetclinic/internal/audit/domain"
	"github.com/smallbiznis/vetclinic/pkg/db/pagination"
	"github.com/smallbiznis/vetclinic/pkg/tenantdb"
	"gorm.io/gorm"
)

const auditLogsTable = "audit_logs"

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *tenantdb.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.Insert(ctx, auditLogsTable, entry, tenantdb.WriteOptions{})
}

func (r *repo) List(ctx context.Context, db *tenantdb.DB, filter domain.ListFilter) ([]domain.AuditLog, error) {
	var filters []tenantdb.Filter
	if action := strings.TrimSpace(filter.Action); action != "" {
		filters = append(filters, tenantdb.Eq("action", action))
	}
	if targetID := strings.TrimSpace(filter.TargetID); targetID != "" {
		filters = append(filters, tenantdb.Eq("target_id", targetID))
	}
	if filter.Cursor != nil {
		cursorID, err := snowflake.ParseString(filter.Cursor.ID)
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		filters = append(filters, func(q *gorm.DB) *gorm.DB {
			return q.Where("id < ?", cursorID)
		})
	}

	return tenantdb.SelectAll[domain.AuditLog](ctx, db, auditLogsTable, tenantdb.SelectOptions{
		Filter: tenantdb.And(filters...),
		Order:  "id DESC",
		Limit:  filter.Limit,
	})
}
