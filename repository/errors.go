package repository

import (
	"database/sql"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	sitegate "github.com/goliatone/go-sitegate"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgUniqueViolation is the SQLSTATE for unique_violation
const pgUniqueViolation = "23505"

// mapError converts driver errors into the module taxonomy: missing rows
// are NotFound, uniqueness violations are Conflict, everything else is a
// Transient store failure.
func mapError(err error, message string, metadata map[string]any) error {
	if err == nil {
		return nil
	}

	if goerrors.Is(err, sql.ErrNoRows) {
		return sitegate.NotFound(message, metadata)
	}

	if isUniqueViolation(err) {
		return sitegate.Conflict(err, message)
	}

	return sitegate.Transient(err, message)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if goerrors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
