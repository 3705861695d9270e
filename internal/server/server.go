package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/vetclinic/internal/audit/domain"
	"github.com/smallbiznis/vetclinic/internal/config"
	invoicedomain "github.com/smallbiznis/vetclinic/internal/invoice/domain"
	"github.com/smallbiznis/vetclinic/internal/observability"
	obslogger "github.com/smallbiznis/vetclinic/internal/observability/logger"
	obstracing "github.com/smallbiznis/vetclinic/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/vetclinic/internal/payment/domain"
	"github.com/smallbiznis/vetclinic/internal/payment/webhook"
	"github.com/smallbiznis/vetclinic/internal/receipt"
	"github.com/smallbiznis/vetclinic/internal/requestctx"
	"github.com/smallbiznis/vetclinic/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(func(svc *webhook.Service) WebhookIngester { return svc }),
	fx.Provide(func(svc *receipt.Service) ReceiptRenderer { return svc }),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// WebhookIngester verifies and applies processor callbacks.
type WebhookIngester interface {
	Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) error
}

type ReceiptRenderer interface {
	Render(ctx context.Context, caller requestctx.Caller, invoiceID string) (*receipt.Receipt, error)
}

type EngineParams struct {
	fx.In

	ObsCfg  observability.Config
	Metrics *telemetry.Metrics `optional:"true"`
}

func NewEngine(p EngineParams) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           p.ObsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
		Metrics:         p.Metrics,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Params struct {
	fx.In

	Engine     *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	PaymentSvc paymentdomain.Service
	InvoiceSvc invoicedomain.Service
	AuditSvc   auditdomain.Service
	Receipts   ReceiptRenderer
	Webhooks   WebhookIngester
}

type Server struct {
	engine     *gin.Engine
	log        *zap.Logger
	jwtSecret  []byte
	paymentSvc paymentdomain.Service
	invoiceSvc invoicedomain.Service
	auditSvc   auditdomain.Service
	receipts   ReceiptRenderer
	webhooks   WebhookIngester
}

func NewServer(p Params) *Server {
	s := &Server{
		engine:     p.Engine,
		log:        p.Log.Named("http"),
		jwtSecret:  []byte(p.Cfg.AuthJWTSecret),
		paymentSvc: p.PaymentSvc,
		invoiceSvc: p.InvoiceSvc,
		auditSvc:   p.AuditSvc,
		receipts:   p.Receipts,
		webhooks:   p.Webhooks,
	}
	if len(s.jwtSecret) == 0 {
		s.log.Warn("AUTH_JWT_SECRET is empty; every authenticated route will answer 401")
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) RegisterRoutes() {
	s.engine.POST("/webhooks/stripe", s.HandleStripeWebhook)

	billing := s.engine.Group("/api/billing", s.AuthRequired())
	billing.POST("/pay", s.PayInvoice)
	billing.GET("/invoices/:id/transactions", s.ListInvoiceTransactions)
	billing.GET("/invoices/:id/receipt", s.DownloadReceipt)
	billing.POST("/invoices/:id/void", RequireRole(requestctx.RoleOwner, requestctx.RoleAdmin), s.VoidInvoice)
	billing.GET("/audit-logs", RequireRole(requestctx.RoleOwner, requestctx.RoleAdmin), s.ListAuditLogs)
}
