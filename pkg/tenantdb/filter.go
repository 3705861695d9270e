package tenantdb

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func ByID(id any) Filter {
	return Eq("id", id)
}

func Eq(column string, value any) Filter {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(clause.Eq{Column: clause.Column{Name: column}, Value: value})
	}
}

func Neq(column string, value any) Filter {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(clause.Neq{Column: clause.Column{Name: column}, Value: value})
	}
}

func In(column string, values ...any) Filter {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(clause.IN{Column: clause.Column{Name: column}, Values: values})
	}
}

// And combines filters; a nil filter is skipped.
func And(filters ...Filter) Filter {
	return func(db *gorm.DB) *gorm.DB {
		for _, f := range filters {
			if f == nil {
				continue
			}
			db = f(db)
		}
		return db
	}
}
