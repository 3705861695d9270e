package tenantdb

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Insert writes records after stamping each with the tenant id. records may
// be a map, a slice of maps, or TenantOwned values (pointer or slice).
func (s *DB) Insert(ctx context.Context, table string, records any, opts WriteOptions) error {
	if err := validTable(table); err != nil {
		return err
	}
	stamped, err := s.stamp(records)
	if err != nil {
		return err
	}

	start := time.Now()
	var rows int64
	err = s.run(ctx, func(tx *gorm.DB) error {
		q := tx.Table(table)
		if opts.Returning {
			q = q.Clauses(clause.Returning{})
		}
		res := q.Create(stamped)
		rows = res.RowsAffected
		return res.Error
	})
	s.track(ctx, table, OpInsert, start, rows, err)
	return err
}

// Update applies data to the rows matching the tenant scope and filter and
// returns the number of rows changed. Any tenant_id key in data is dropped
// so rows cannot be reassigned to another tenant.
func (s *DB) Update(ctx context.Context, table string, data map[string]any, filter Filter, opts WriteOptions) (int64, error) {
	if err := validTable(table); err != nil {
		return 0, err
	}
	payload := withoutTenant(data)
	if len(payload) == 0 {
		return 0, nil
	}

	start := time.Now()
	var rows int64
	err := s.run(ctx, func(tx *gorm.DB) error {
		q := s.scoped(tx, table, filter)
		if opts.Returning && opts.Into != nil {
			q = q.Model(opts.Into).Clauses(clause.Returning{})
		}
		res := q.Updates(payload)
		rows = res.RowsAffected
		return res.Error
	})
	s.track(ctx, table, OpUpdate, start, rows, err)
	return rows, err
}

// Upsert inserts records or updates the conflicting rows. The update branch
// only touches rows already owned by the tenant.
func (s *DB) Upsert(ctx context.Context, table string, records any, opts WriteOptions) error {
	if err := validTable(table); err != nil {
		return err
	}
	stamped, err := s.stamp(records)
	if err != nil {
		return err
	}

	target := opts.OnConflict
	if len(target) == 0 {
		target = []string{"id"}
	}
	conflict := clause.OnConflict{
		Columns: make([]clause.Column, 0, len(target)),
		Where:   clause.Where{Exprs: []clause.Expression{s.tenantClause(table)}},
	}
	for _, col := range target {
		conflict.Columns = append(conflict.Columns, clause.Column{Name: col})
	}
	if cols := updatableColumns(stamped, target); cols != nil {
		if len(cols) == 0 {
			conflict.DoNothing = true
			conflict.Where = clause.Where{}
		} else {
			conflict.DoUpdates = clause.AssignmentColumns(cols)
		}
	} else {
		conflict.UpdateAll = true
	}

	start := time.Now()
	var rows int64
	err = s.run(ctx, func(tx *gorm.DB) error {
		q := tx.Table(table).Clauses(conflict)
		if opts.Returning {
			q = q.Clauses(clause.Returning{})
		}
		res := q.Create(stamped)
		rows = res.RowsAffected
		return res.Error
	})
	s.track(ctx, table, OpUpsert, start, rows, err)
	return err
}

// Delete removes rows matching the tenant scope and filter.
func (s *DB) Delete(ctx context.Context, table string, filter Filter) (int64, error) {
	if err := validTable(table); err != nil {
		return 0, err
	}

	start := time.Now()
	var rows int64
	err := s.run(ctx, func(tx *gorm.DB) error {
		res := s.scoped(tx, table, filter).Delete(map[string]any{})
		rows = res.RowsAffected
		return res.Error
	})
	s.track(ctx, table, OpDelete, start, rows, err)
	return rows, err
}

func (s *DB) stamp(records any) (any, error) {
	switch v := records.(type) {
	case nil:
		return nil, ErrUnstampable
	case map[string]any:
		return s.stampMap(v), nil
	case []map[string]any:
		out := make([]map[string]any, 0, len(v))
		for _, m := range v {
			out = append(out, s.stampMap(m))
		}
		return out, nil
	case TenantOwned:
		v.SetTenantID(s.tenantID)
		return v, nil
	}

	rv := reflect.ValueOf(records)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice {
		return nil, ErrUnstampable
	}
	for i := 0; i < rv.Len(); i++ {
		item := rv.Index(i)
		if item.Kind() != reflect.Pointer {
			item = item.Addr()
		}
		owned, ok := item.Interface().(TenantOwned)
		if !ok {
			return nil, ErrUnstampable
		}
		owned.SetTenantID(s.tenantID)
	}
	return records, nil
}

func (s *DB) stampMap(m map[string]any) map[string]any {
	out := withoutTenant(m)
	out[ColumnTenantID] = s.tenantID
	return out
}

func withoutTenant(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		if strings.EqualFold(strings.TrimSpace(k), ColumnTenantID) {
			continue
		}
		out[k] = v
	}
	return out
}

// updatableColumns returns the columns an upsert of map records may
// overwrite, or nil for struct records which update every column.
func updatableColumns(records any, target []string) []string {
	var first map[string]any
	switch v := records.(type) {
	case map[string]any:
		first = v
	case []map[string]any:
		if len(v) == 0 {
			return []string{}
		}
		first = v[0]
	default:
		return nil
	}

	skip := map[string]struct{}{ColumnTenantID: {}}
	for _, col := range target {
		skip[col] = struct{}{}
	}
	cols := make([]string, 0, len(first))
	for k := range first {
		if _, ok := skip[k]; ok {
			continue
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
