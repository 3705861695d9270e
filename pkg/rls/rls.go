package rls

import (
	"strings"

	"gorm.io/gorm"
)

// Setting is the Postgres session variable read by the row level security
// policies installed by the migrations.
const Setting = "app.current_tenant_id"

// WithTenant binds the tenant to the current transaction. It must run inside
// a transaction; SET LOCAL is discarded at commit or rollback.
func WithTenant(tx *gorm.DB, tenantID string) error {
	return tx.Exec("SELECT set_config(?, ?, true)", Setting, strings.TrimSpace(tenantID)).Error
}

// Supported reports whether the connection's dialect enforces row level
// security.
func Supported(db *gorm.DB) bool {
	if db == nil || db.Dialector == nil {
		return false
	}
	return db.Dialector.Name() == "postgres"
}
