package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// IsUniqueViolation reports whether the provided error references a unique
// violation. When constraintName is provided, the helper also requires the
// constraint (or sqlite column list) to be named in the error.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if !matchesCode(err, pgUniqueViolation) &&
		!errors.Is(err, gorm.ErrDuplicatedKey) &&
		!containsAny(err.Error(), "duplicate key value", "UNIQUE constraint failed") {
		return false
	}
	if constraintName == "" {
		return true
	}
	if name := ConstraintName(err); name != "" {
		return name == constraintName
	}
	return strings.Contains(err.Error(), constraintName)
}

// IsForeignKeyViolation reports whether err was raised by a foreign key check.
func IsForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	if matchesCode(err, pgForeignKeyViolation) || errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	return containsAny(err.Error(), "violates foreign key constraint", "FOREIGN KEY constraint failed")
}

// IsNotFound reports whether err is GORM's missing-row sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// ConstraintName extracts the violated constraint from Postgres errors.
func ConstraintName(err error) string {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.ConstraintName
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}

func matchesCode(err error, code string) bool {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code == code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == code
	}
	return false
}

func containsAny(msg string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
