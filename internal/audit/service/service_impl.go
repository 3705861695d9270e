package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vetclinic/internal/audit/domain"
	"github.com/smallbiznis/vetclinic/internal/audit/masking"
	"github.com/smallbiznis/vetclinic/internal/authorization"
	"github.com/smallbiznis/vetclinic/internal/clock"
	obscontext "github.com/smallbiznis/vetclinic/internal/observability/context"
	"github.com/smallbiznis/vetclinic/internal/requestctx"
	"github.com/smallbiznis/vetclinic/pkg/db/pagination"
	"github.com/smallbiznis/vetclinic/pkg/tenantdb"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Params struct {
	fx.In

	Tenants *tenantdb.Factory
	Authz   authorization.Service
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
}

type Service struct {
	tenants *tenantdb.Factory
	authz   authorization.Service
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		tenants: p.Tenants,
		authz:   p.Authz,
		log:     p.Log.Named("audit.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, db *tenantdb.DB, entry domain.Entry) error {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return domain.ErrInvalidAction
	}

	actorType := strings.TrimSpace(entry.ActorType)
	if actorType == "" {
		actorType = domain.ActorSystem
	}
	targetType := strings.TrimSpace(entry.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}

	payload := map[string]any{}
	for key, value := range entry.Metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}
	for key, value := range masking.Values(entry.Secrets) {
		payload[key] = value
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	log := domain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		ActorID:    optional(entry.ActorID),
		Action:     action,
		TargetType: targetType,
		TargetID:   optional(entry.TargetID),
		Metadata:   datatypes.JSONMap(payload),
		CreatedAt:  s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, db, &log); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("tenant_id", db.TenantID()),
			zap.String("action", action),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, caller requestctx.Caller, req domain.ListRequest) (domain.ListResponse, error) {
	if err := s.authz.Authorize(ctx, caller, authorization.ObjectAudit, authorization.ActionAuditView); err != nil {
		return domain.ListResponse{}, err
	}
	db, err := s.tenants.For(caller.TenantID)
	if err != nil {
		return domain.ListResponse{}, err
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListResponse{}, err
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, db, domain.ListFilter{
		Action:   req.Action,
		TargetID: req.TargetID,
		Cursor:   cursor,
		Limit:    limit + 1,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(item domain.AuditLog) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: item.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})
	if items == nil {
		items = []domain.AuditLog{}
	}
	return domain.ListResponse{
		AuditLogs: items,
		PageInfo:  *pageInfo,
	}, nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
