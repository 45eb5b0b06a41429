package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/stockimport/internal/job"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error codes the writer distinguishes.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgNotNullViolation    = "23502"
	pgStringTooLong       = "22001"
)

// fatalClasses are SQLSTATE classes after which the batch cannot continue:
// connection exceptions, resource exhaustion, operator intervention and
// system errors.
var fatalClasses = []string{"08", "53", "57", "58", "XX"}

// IsFatal reports whether err ends the whole import rather than one row.
// Errors that are not PostgreSQL errors (network, context) are fatal.
func IsFatal(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return true
	}
	for _, class := range fatalClasses {
		if strings.HasPrefix(pgErr.Code, class) {
			return true
		}
	}
	return false
}

// IsUniqueViolation reports whether err is a unique_violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// rowError converts a per-row database error into a job row error.
func rowError(line int, err error) *job.RowError {
	re := &job.RowError{Row: line, Kind: job.KindStorage, Message: err.Error()}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return re
	}

	re.Column = pgErr.ColumnName
	switch pgErr.Code {
	case pgUniqueViolation:
		re.Kind = job.KindConflict
		re.Message = "record already exists"
	case pgForeignKeyViolation:
		re.Message = "referenced record does not exist"
	case pgCheckViolation:
		re.Message = fmt.Sprintf("value violates constraint %s", pgErr.ConstraintName)
	case pgNotNullViolation:
		re.Message = "required value is missing"
	case pgStringTooLong:
		re.Message = "value too long"
	default:
		re.Message = pgErr.Message
	}
	if pgErr.Detail != "" {
		re.Message += ": " + pgErr.Detail
	}
	return re
}
