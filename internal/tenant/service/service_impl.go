package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/vetclinic/internal/clock"
	"github.com/smallbiznis/vetclinic/internal/requestctx"
	"github.com/smallbiznis/vetclinic/internal/tenant/domain"
	"github.com/smallbiznis/vetclinic/pkg/db"
	"github.com/smallbiznis/vetclinic/pkg/tenantdb"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxSlugLength = 48

type Params struct {
	fx.In

	DB      *gorm.DB
	Tenants *tenantdb.Factory
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
}

type Service struct {
	db      *gorm.DB
	tenants *tenantdb.Factory
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		tenants: p.Tenants,
		log:     p.Log.Named("tenant.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
	}
}

// Create registers a clinic and its primary admin in one transaction.
func (s *Service) Create(ctx context.Context, req domain.CreateTenantRequest) (domain.Tenant, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Tenant{}, domain.ErrInvalidName
	}
	id, err := NormalizeSlug(req.Slug, name)
	if err != nil {
		return domain.Tenant{}, err
	}
	adminID := strings.TrimSpace(req.AdminUserID)
	if adminID == "" {
		return domain.Tenant{}, domain.ErrInvalidAdmin
	}

	now := s.clock.Now()
	tenant := domain.Tenant{
		ID:        id,
		Name:      name,
		Status:    domain.StatusTrial,
		Plan:      strings.TrimSpace(req.Plan),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertTenant(ctx, tx, &tenant); err != nil {
			return err
		}
		scoped, err := tenantdb.New(tx, tenant.ID, tenantdb.WithRLS())
		if err != nil {
			return err
		}
		return s.repo.InsertMember(ctx, scoped, &domain.Member{
			ID:             s.genID.Generate(),
			UserID:         adminID,
			Email:          strings.TrimSpace(req.AdminEmail),
			Role:           string(requestctx.RoleOwner),
			IsPrimaryAdmin: true,
			CreatedAt:      now,
		})
	})
	if err != nil {
		if constraint, ok := db.UniqueViolation(err); ok {
			s.log.Debug("tenant id conflict", zap.String("tenant_id", tenant.ID), zap.String("constraint", constraint))
			return domain.Tenant{}, domain.ErrSlugTaken
		}
		return domain.Tenant{}, err
	}

	s.log.Info("tenant created", zap.String("tenant_id", tenant.ID))
	return tenant, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Tenant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Tenant{}, domain.ErrInvalidSlug
	}
	tenant, err := s.repo.FindTenant(ctx, s.db, id)
	if err != nil {
		return domain.Tenant{}, err
	}
	if tenant == nil {
		return domain.Tenant{}, domain.ErrNotFound
	}
	return *tenant, nil
}

// PrimaryAdmin returns the member who receives billing notifications, or
// nil when the tenant has none.
func (s *Service) PrimaryAdmin(ctx context.Context, tenantID string) (*domain.Member, error) {
	scoped, err := s.tenants.For(tenantID)
	if err != nil {
		return nil, err
	}
	return s.repo.FindPrimaryAdmin(ctx, scoped)
}

// NormalizeSlug derives the tenant id from an explicit slug or the clinic name.
func NormalizeSlug(raw, name string) (string, error) {
	source := strings.TrimSpace(raw)
	if source == "" {
		source = name
	}
	value := slug.Make(source)
	if len(value) > maxSlugLength {
		value = strings.Trim(value[:maxSlugLength], "-")
	}
	if !slug.IsSlug(value) {
		return "", domain.ErrInvalidSlug
	}
	return value, nil
}
