package tenantdb

import "gorm.io/gorm"

// Factory hands out tenant-bound handles sharing one connection pool and
// option set.
type Factory struct {
	db   *gorm.DB
	opts []Option
}

func NewFactory(db *gorm.DB, opts ...Option) *Factory {
	return &Factory{db: db, opts: opts}
}

func (f *Factory) For(tenantID string) (*DB, error) {
	return New(f.db, tenantID, f.opts...)
}
