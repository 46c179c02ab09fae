package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/corray333/backend-labs/materials/internal/service/errs"
)

// PostgreSQL error codes the repositories react to.
const (
	PgErrUniqueViolation      = "23505" // unique_violation
	PgErrForeignKeyViolation  = "23503" // foreign_key_violation
	PgErrSerializationFailure = "40001" // serialization_failure
	PgErrDeadlockDetected     = "40P01" // deadlock_detected
	PgErrUndefinedTable       = "42P01" // undefined_table
	PgErrInvalidText          = "22P02" // invalid_text_representation
)

// WrapError classifies a pgx error into the service error taxonomy.
// Missing rows, keys that cannot be a stored uuid and references to a missing parent
// become errs.ErrNotFound. Lost races become errs.ErrStaleVersion and everything
// else is an errs.ErrStore.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.NotFound("%s", op)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case PgErrInvalidText, PgErrForeignKeyViolation:
			return errs.NotFound("%s: %s", op, pgErr.Message)
		case PgErrUniqueViolation, PgErrSerializationFailure, PgErrDeadlockDetected:
			return fmt.Errorf("%w: %s: %v", errs.ErrStaleVersion, op, err)
		}
	}

	return errs.Store(op, err)
}
