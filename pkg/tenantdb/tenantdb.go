// Package tenantdb confines every read and write to the rows of a single
// tenant. A DB is bound to one tenant id at construction; each operation adds
// the tenant predicate itself, stamps inserted rows and refuses to move rows
// between tenants on update. Store errors are returned unchanged.
package tenantdb

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/vetclinic/pkg/rls"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ColumnTenantID is the discriminator column every tenant-owned table carries.
const ColumnTenantID = "tenant_id"

var (
	ErrMissingTenant = errors.New("missing_tenant")
	ErrUnstampable   = errors.New("unstampable_record")
	ErrMissingTable  = errors.New("missing_table")

	// ErrNotFound is returned by single-row selects that match nothing in scope.
	ErrNotFound = gorm.ErrRecordNotFound
)

// TenantOwned is implemented by row types that can receive the owning tenant
// before they are written.
type TenantOwned interface {
	SetTenantID(tenantID string)
}

// Filter narrows a query with caller conditions. Only WHERE conditions are
// taken from the returned statement; they are grouped and ANDed with the
// tenant predicate so an OR inside a filter cannot widen the scope.
type Filter func(db *gorm.DB) *gorm.DB

type SelectOptions struct {
	Columns []string
	Filter  Filter
	Order   string
	Limit   int
	Offset  int
	// Single fetches at most one row and reports ErrNotFound when none match.
	Single bool
	// Count, when set, receives the number of rows matching the scope and
	// filter, ignoring Limit and Offset.
	Count *int64
}

type WriteOptions struct {
	// Returning asks the store to hand back written rows. Insert and Upsert
	// refresh the records passed in; Update scans into Into.
	Returning bool
	Into      any
	// OnConflict lists the conflict target for Upsert. Defaults to id.
	OnConflict []string
}

type DB struct {
	db       *gorm.DB
	tenantID string
	tracker  Tracker
	rls      bool
	log      *zap.Logger
}

type Option func(*DB)

// WithTracker reports every operation to t.
func WithTracker(t Tracker) Option {
	return func(d *DB) {
		d.tracker = t
	}
}

// WithRLS runs each operation in its own transaction with the Postgres row
// level security setting bound to the tenant. Ignored on other dialects.
func WithRLS() Option {
	return func(d *DB) {
		d.rls = true
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(d *DB) {
		if log != nil {
			d.log = log
		}
	}
}

// New binds db to tenantID. It fails with ErrMissingTenant when the tenant id
// is empty so no query can ever run unscoped.
func New(db *gorm.DB, tenantID string, opts ...Option) (*DB, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, ErrMissingTenant
	}
	if db == nil {
		return nil, errors.New("tenantdb: nil gorm handle")
	}

	d := &DB{
		db:       db,
		tenantID: tenantID,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.Named("tenantdb").With(zap.String("tenant_id", tenantID))
	return d, nil
}

func (s *DB) TenantID() string {
	return s.tenantID
}

// Transaction runs fn with a handle bound to a single store transaction. The
// transaction commits when fn returns nil and rolls back otherwise. With RLS
// the tenant setting is applied once for the whole transaction.
func (s *DB) Transaction(ctx context.Context, fn func(tx *DB) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.rls && rls.Supported(tx) {
			if err := rls.WithTenant(tx, s.tenantID); err != nil {
				return err
			}
		}
		bound := *s
		bound.db = tx
		bound.rls = false
		return fn(&bound)
	})
}

func (s *DB) run(ctx context.Context, fn func(tx *gorm.DB) error) error {
	conn := s.db.WithContext(ctx)
	if !s.rls || !rls.Supported(conn) {
		return fn(conn)
	}
	return conn.Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, s.tenantID); err != nil {
			return err
		}
		return fn(tx)
	})
}

func (s *DB) tenantClause(table string) clause.Expression {
	return clause.Eq{
		Column: clause.Column{Table: table, Name: ColumnTenantID},
		Value:  s.tenantID,
	}
}

func (s *DB) scoped(tx *gorm.DB, table string, filter Filter) *gorm.DB {
	q := tx.Table(table).Where(s.tenantClause(table))
	if filter == nil {
		return q
	}
	cond := filter(tx.Session(&gorm.Session{NewDB: true}))
	if cond == nil {
		return q
	}
	return q.Where(cond)
}

func (s *DB) track(ctx context.Context, table string, op Operation, start time.Time, rows int64, err error) {
	if s.tracker == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("tracker panicked",
				zap.String("table", table),
				zap.String("operation", string(op)),
				zap.Any("panic", r),
			)
		}
	}()
	s.tracker.Track(ctx, Observation{
		TenantID:  s.tenantID,
		Table:     table,
		Operation: op,
		Duration:  time.Since(start),
		Rows:      rows,
		Err:       err,
	})
}

func validTable(table string) error {
	if strings.TrimSpace(table) == "" {
		return ErrMissingTable
	}
	return nil
}
