package tenantdb

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Select loads rows of table into dest, which may be a pointer to a struct,
// a slice of structs or their map equivalents.
func (s *DB) Select(ctx context.Context, table string, dest any, opts SelectOptions) error {
	return s.selectOp(ctx, OpSelect, table, dest, opts)
}

func (s *DB) selectOp(ctx context.Context, op Operation, table string, dest any, opts SelectOptions) error {
	if err := validTable(table); err != nil {
		return err
	}

	start := time.Now()
	var rows int64
	err := s.run(ctx, func(tx *gorm.DB) error {
		q := s.scoped(tx, table, opts.Filter)
		if opts.Count != nil {
			if err := q.Session(&gorm.Session{}).Count(opts.Count).Error; err != nil {
				return err
			}
		}
		if len(opts.Columns) > 0 {
			q = q.Select(opts.Columns)
		}
		if opts.Order != "" {
			q = q.Order(opts.Order)
		}
		if opts.Offset > 0 {
			q = q.Offset(opts.Offset)
		}

		if opts.Single {
			res := q.Limit(1).Find(dest)
			if res.Error != nil {
				return res.Error
			}
			rows = res.RowsAffected
			if rows == 0 {
				return ErrNotFound
			}
			return nil
		}

		if opts.Limit > 0 {
			q = q.Limit(opts.Limit)
		}
		res := q.Find(dest)
		rows = res.RowsAffected
		return res.Error
	})
	s.track(ctx, table, op, start, rows, err)
	return err
}

func (s *DB) Count(ctx context.Context, table string, filter Filter) (int64, error) {
	return s.countOp(ctx, OpCount, table, filter)
}

func (s *DB) countOp(ctx context.Context, op Operation, table string, filter Filter) (int64, error) {
	if err := validTable(table); err != nil {
		return 0, err
	}

	start := time.Now()
	var count int64
	err := s.run(ctx, func(tx *gorm.DB) error {
		return s.scoped(tx, table, filter).Count(&count).Error
	})
	s.track(ctx, table, op, start, count, err)
	return count, err
}

// Exists reports whether a row with id is visible to the tenant.
func (s *DB) Exists(ctx context.Context, table string, id any) (bool, error) {
	count, err := s.countOp(ctx, OpExists, table, ByID(id))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Verify checks that id belongs to the tenant. When dest is non-nil the
// requested columns of the row are loaded into it. A row owned by another
// tenant and a missing row are indistinguishable: both report false.
func (s *DB) Verify(ctx context.Context, table string, id any, columns []string, dest any) (bool, error) {
	if dest == nil {
		count, err := s.countOp(ctx, OpVerify, table, ByID(id))
		if err != nil {
			return false, err
		}
		return count > 0, nil
	}

	err := s.selectOp(ctx, OpVerify, table, dest, SelectOptions{
		Columns: columns,
		Filter:  ByID(id),
		Single:  true,
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
