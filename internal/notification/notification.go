// Package notification delivers in-app and email notices to clinic staff.
package notification

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vetclinic/internal/clock"
	"github.com/smallbiznis/vetclinic/internal/providers/email"
	"github.com/smallbiznis/vetclinic/pkg/tenantdb"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	table = "notifications"

	// emailTimeout bounds one delivery attempt off the request path.
	emailTimeout = 30 * time.Second
)

// Notification is the in-app row shown in the clinic dashboard.
type Notification struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID  string       `gorm:"column:tenant_id;type:text;not null;index" json:"tenant_id"`
	UserID    string       `gorm:"column:user_id;type:text;not null" json:"user_id"`
	Title     string       `gorm:"column:title;type:text;not null" json:"title"`
	Message   string       `gorm:"column:message;type:text;not null" json:"message"`
	ReadAt    *time.Time   `gorm:"column:read_at" json:"read_at,omitempty"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

func (Notification) TableName() string { return table }

func (n *Notification) SetTenantID(tenantID string) { n.TenantID = tenantID }

// Message addresses one user of a tenant. Email is optional.
type Message struct {
	TenantID      string
	UserID        string
	Email         string
	Title         string
	Body          string
	InvoiceNumber string
}

// Notifier is best effort: delivery problems are logged and never surface to
// the caller, and the caller never waits on mail delivery.
type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

var Module = fx.Module("notification",
	fx.Provide(fx.Annotate(New, fx.As(new(Notifier)))),
)

type Params struct {
	fx.In

	Tenants   *tenantdb.Factory
	Email     email.Provider
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Lifecycle fx.Lifecycle `optional:"true"`
}

type Service struct {
	tenants *tenantdb.Factory
	email   email.Provider
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	timeout time.Duration
	pending sync.WaitGroup
}

func New(p Params) *Service {
	s := &Service{
		tenants: p.Tenants,
		email:   p.Email,
		log:     p.Log.Named("notification"),
		genID:   p.GenID,
		clock:   p.Clock,
		timeout: emailTimeout,
	}
	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{OnStop: s.Drain})
	}
	return s
}

// Drain waits for in-flight emails until ctx is done.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) Notify(ctx context.Context, msg Message) {
	log := s.log.With(
		zap.String("tenant_id", msg.TenantID),
		zap.String("user_id", msg.UserID),
	)
	if strings.TrimSpace(msg.UserID) == "" {
		log.Warn("notification skipped: no recipient")
		return
	}

	db, err := s.tenants.For(msg.TenantID)
	if err != nil {
		log.Warn("notification skipped", zap.Error(err))
		return
	}
	row := Notification{
		ID:        s.genID.Generate(),
		UserID:    msg.UserID,
		Title:     msg.Title,
		Message:   msg.Body,
		CreatedAt: s.clock.Now(),
	}
	if err := db.Insert(ctx, table, &row, tenantdb.WriteOptions{}); err != nil {
		log.Warn("failed to store notification", zap.Error(err))
	}

	if s.email == nil || strings.TrimSpace(msg.Email) == "" {
		return
	}
	s.pending.Add(1)
	go s.sendEmail(context.WithoutCancel(ctx), msg, log)
}

func (s *Service) sendEmail(ctx context.Context, msg Message, log *zap.Logger) {
	defer s.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error("notification email panicked", zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.email.SendTemplate(ctx, []string{msg.Email}, msg.Title, "payment_received", map[string]any{
		"Title":         msg.Title,
		"Message":       msg.Body,
		"InvoiceNumber": msg.InvoiceNumber,
	})
	if err != nil {
		log.Warn("failed to send notification email", zap.Error(err))
	}
}
