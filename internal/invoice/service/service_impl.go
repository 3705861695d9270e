package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/vetclinic/internal/audit/domain"
	"github.com/smallbiznis/vetclinic/internal/authorization"
	"github.com/smallbiznis/vetclinic/internal/clock"
	"github.com/smallbiznis/vetclinic/internal/invoice/domain"
	"github.com/smallbiznis/vetclinic/internal/requestctx"
	"github.com/smallbiznis/vetclinic/pkg/tenantdb"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Tenants *tenantdb.Factory
	Authz   authorization.Service
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    domain.Repository
	Audit   auditdomain.Service
}

type Service struct {
	tenants *tenantdb.Factory
	authz   authorization.Service
	log     *zap.Logger
	clock   clock.Clock
	repo    domain.Repository
	audit   auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		tenants: p.Tenants,
		authz:   p.Authz,
		log:     p.Log.Named("invoice.service"),
		clock:   p.Clock,
		repo:    p.Repo,
		audit:   p.Audit,
	}
}

func (s *Service) Get(ctx context.Context, caller requestctx.Caller, id string) (domain.Invoice, error) {
	if err := s.authz.Authorize(ctx, caller, authorization.ObjectInvoice, authorization.ActionInvoiceView); err != nil {
		return domain.Invoice{}, err
	}
	invoiceID, err := ParseID(id)
	if err != nil {
		return domain.Invoice{}, err
	}
	db, err := s.tenants.For(caller.TenantID)
	if err != nil {
		return domain.Invoice{}, err
	}
	invoice, err := s.repo.FindByID(ctx, db, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if invoice == nil {
		return domain.Invoice{}, domain.ErrNotFound
	}
	return *invoice, nil
}

// Void cancels an unpaid invoice. A paid invoice must be refunded instead.
func (s *Service) Void(ctx context.Context, caller requestctx.Caller, id string) (domain.Invoice, error) {
	if err := s.authz.Authorize(ctx, caller, authorization.ObjectInvoice, authorization.ActionInvoiceVoid); err != nil {
		return domain.Invoice{}, err
	}
	invoiceID, err := ParseID(id)
	if err != nil {
		return domain.Invoice{}, err
	}
	db, err := s.tenants.For(caller.TenantID)
	if err != nil {
		return domain.Invoice{}, err
	}
	invoice, err := s.repo.FindByID(ctx, db, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if invoice == nil {
		return domain.Invoice{}, domain.ErrNotFound
	}
	switch invoice.Status {
	case domain.InvoiceStatusPaid:
		return domain.Invoice{}, domain.ErrAlreadyPaid
	case domain.InvoiceStatusVoid:
		return domain.Invoice{}, domain.ErrAlreadyVoid
	}

	now := s.clock.Now()
	changed, err := s.repo.MarkVoid(ctx, db, invoiceID, now)
	if err != nil {
		return domain.Invoice{}, err
	}
	if !changed {
		return domain.Invoice{}, domain.ErrStatusConflict
	}

	s.log.Info("invoice voided",
		zap.String("tenant_id", caller.TenantID),
		zap.String("invoice_id", invoiceID.String()),
		zap.String("user_id", caller.UserID),
	)
	_ = s.audit.Record(ctx, db, auditdomain.Entry{
		ActorType:  auditdomain.ActorUser,
		ActorID:    caller.UserID,
		Action:     auditdomain.ActionInvoiceVoided,
		TargetType: "invoice",
		TargetID:   invoiceID.String(),
		Metadata: map[string]any{
			"invoice_number":  invoice.InvoiceNumber,
			"previous_status": string(invoice.Status),
		},
	})
	invoice.Status = domain.InvoiceStatusVoid
	invoice.UpdatedAt = now
	return *invoice, nil
}

func ParseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
