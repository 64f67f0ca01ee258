package postgres

import (
	"errors"
	"strings"

	"github.com/JonMunkholm/lims/internal/core"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes the import engine reacts to.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgNotNullViolation     = "23502"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgAdminShutdown        = "57P01"
	pgQueryCanceled        = "57014"
	pgConnectionClass      = "08"
)

var errRowGone = &core.Error{Kind: core.KindInternal, Code: core.CodeUnknown,
	Message: "record was deleted while the import ran"}

// classify translates pgx errors into *core.Error. Constraint failures stay
// row-level; lost connections are critical.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := core.AsError(err); ok {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyPgError(pgErr, err)
	}

	if pgconn.Timeout(err) {
		return core.ConnectionFailure(core.CodeTimeout, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return core.ConnectionFailure(core.CodeConnectionRefused, err)
	}
	return core.Classify(err)
}

func classifyPgError(pgErr *pgconn.PgError, err error) *core.Error {
	switch pgErr.Code {
	case pgUniqueViolation:
		return core.ConstraintViolation(core.CodeUniqueViolation, pgErr.ConstraintName, true, err)
	case pgForeignKeyViolation:
		return core.ConstraintViolation(core.CodeForeignKey, pgErr.ConstraintName, false, err)
	case pgNotNullViolation:
		e := core.ConstraintViolation(core.CodeNotNull, pgErr.ConstraintName, false, err)
		e.Field = pgErr.ColumnName
		return e
	case pgCheckViolation:
		return core.ConstraintViolation(core.CodeCheckViolation, pgErr.ConstraintName, false, err)
	case pgSerializationFailure:
		return core.Transient(core.CodeSerialization, err)
	case pgDeadlockDetected:
		return core.Transient(core.CodeDeadlock, err)
	case pgQueryCanceled:
		return core.ConnectionFailure(core.CodeCancelled, err)
	}

	if strings.HasPrefix(pgErr.Code, pgConnectionClass) || pgErr.Code == pgAdminShutdown || pgErr.Severity == "FATAL" {
		return core.ConnectionFailure(core.CodeConnectionReset, err)
	}
	return &core.Error{Kind: core.KindInternal, Code: core.CodeUnknown, Message: pgErr.Message, Err: err}
}
