package tenantdb

import (
	"context"
	"errors"
)

// SelectAll loads every matching row of table as T.
func SelectAll[T any](ctx context.Context, s *DB, table string, opts SelectOptions) ([]T, error) {
	opts.Single = false
	var out []T
	if err := s.Select(ctx, table, &out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// SelectOne loads a single row as T. It returns nil, nil when nothing
// matches in the tenant's scope.
func SelectOne[T any](ctx context.Context, s *DB, table string, opts SelectOptions) (*T, error) {
	opts.Single = true
	var out T
	err := s.Select(ctx, table, &out, opts)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}
