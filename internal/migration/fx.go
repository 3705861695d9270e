package migration

import (
	"github.com/smallbiznis/vetclinic/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module applies pending migrations on startup. Only Postgres carries the
// embedded schema; other dialects are expected to be provisioned separately.
var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, log *zap.Logger) error {
		if !rls.Supported(conn) {
			log.Warn("skipping migrations for non-postgres database",
				zap.String("dialect", conn.Dialector.Name()),
			)
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
