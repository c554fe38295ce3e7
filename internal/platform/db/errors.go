package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// SQLSTATE codes translated into the domain taxonomy.
const (
	pgNotNullViolation     = "23502"
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// TranslateError converts driver errors into classified domain errors. Errors that are
// already classified or unknown to the translator pass through unchanged.
func TranslateError(err error, entity string, id any) error {
	if err == nil {
		return nil
	}
	if _, ok := shared.AsError(err); ok {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if entity == "" {
			entity = "record"
		}
		nf := shared.NotFound(entity, id)
		nf.Err = err
		return nf
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		e := shared.Conflict(shared.CodeDuplicateCode, "a record with the same code already exists")
		e.Entity = entity
		e.Field = columnFromConstraint(pgErr)
		e.Err = err
		return e
	case pgForeignKeyViolation:
		e := shared.Conflict(shared.CodeReferenceViolation, "the record is referenced by or references missing data")
		e.Entity = entity
		e.Err = err
		return e
	case pgNotNullViolation:
		e := shared.Validation(pgErr.ColumnName, "%s is required", fieldOrRecord(pgErr.ColumnName))
		e.Entity = entity
		e.Err = err
		return e
	case pgCheckViolation:
		e := shared.Validation(pgErr.ConstraintName, "a value of the %s is out of the allowed range", fieldOrRecord(entity))
		e.Entity = entity
		e.Err = err
		return e
	case pgSerializationFailure, pgDeadlockDetected:
		e := shared.Conflict(shared.CodeConcurrentModification, "the record was modified concurrently, retry the operation")
		e.Entity = entity
		e.Err = err
		return e
	}
	return err
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func fieldOrRecord(name string) string {
	if name == "" {
		return "record"
	}
	return name
}

func columnFromConstraint(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	return ""
}
