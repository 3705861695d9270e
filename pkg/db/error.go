package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// UniqueViolation reports whether err came from a unique index and, when the
// driver exposes it, the name of the violated constraint.
func UniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName, pgErr.Code == pgUniqueViolation
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint, string(pqErr.Code) == pgUniqueViolation
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return "", true
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed: "):
		// sqlite names the columns, not the index.
		_, cols, _ := strings.Cut(msg, "UNIQUE constraint failed: ")
		return strings.TrimSpace(cols), true
	case strings.Contains(msg, "Error 1062"):
		return "", true
	}
	return "", false
}

// IsDuplicateKeyErr is UniqueViolation without the constraint name.
func IsDuplicateKeyErr(err error) bool {
	_, ok := UniqueViolation(err)
	return ok
}
