package main

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vetclinic/internal/audit"
	"github.com/smallbiznis/vetclinic/internal/authorization"
	"github.com/smallbiznis/vetclinic/internal/clock"
	"github.com/smallbiznis/vetclinic/internal/config"
	"github.com/smallbiznis/vetclinic/internal/invoice"
	"github.com/smallbiznis/vetclinic/internal/notification"
	"github.com/smallbiznis/vetclinic/internal/observability"
	"github.com/smallbiznis/vetclinic/internal/payment"
	"github.com/smallbiznis/vetclinic/internal/paymentmethod"
	"github.com/smallbiznis/vetclinic/internal/providers/email"
	"github.com/smallbiznis/vetclinic/internal/ratelimit"
	"github.com/smallbiznis/vetclinic/internal/receipt"
	"github.com/smallbiznis/vetclinic/internal/tenant"
	"github.com/smallbiznis/vetclinic/pkg/db"
	"github.com/smallbiznis/vetclinic/pkg/telemetry"
	"github.com/smallbiznis/vetclinic/pkg/tenantdb"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const stopTimeout = 15 * time.Second

func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		db.Module,
		fx.Provide(
			RegisterSnowflake,
			clock.New,
			provideTenantFactory,
		),
	)
}

func domains() fx.Option {
	return fx.Options(
		authorization.Module,
		audit.Module,
		tenant.Module,
		invoice.Module,
		paymentmethod.Module,
		email.Module,
		notification.Module,
		ratelimit.Module,
		payment.Module,
		receipt.Module,
	)
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

type tenantFactoryParams struct {
	fx.In

	DB       *gorm.DB
	Cfg      config.Config
	Log      *zap.Logger
	Payments *config.PaymentsConfigHolder
	Metrics  *telemetry.Metrics `optional:"true"`
}

// provideTenantFactory wires every tenant scoped handle with query metrics,
// slow query logging and, when enabled, the Postgres RLS backstop.
func provideTenantFactory(p tenantFactoryParams) *tenantdb.Factory {
	slow := tenantdb.SlowLog(p.Log, func() time.Duration {
		return p.Payments.Get().SlowQueryThreshold
	})
	opts := []tenantdb.Option{
		tenantdb.WithLogger(p.Log),
		tenantdb.WithTracker(tenantdb.Chain(p.Metrics, slow)),
	}
	if p.Cfg.TenantRLS {
		opts = append(opts, tenantdb.WithRLS())
	}
	return tenantdb.NewFactory(p.DB, opts...)
}

// startApp builds a short lived container for CLI commands and fills
// targets. The returned func stops it.
func startApp(ctx context.Context, opts []fx.Option, targets ...any) (func(), error) {
	opts = append(opts, fx.NopLogger, fx.Populate(targets...))
	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		return nil, err
	}
	if err := app.Start(ctx); err != nil {
		return nil, err
	}
	return func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = app.Stop(stopCtx)
	}, nil
}
