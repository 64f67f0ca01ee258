package sqlite

import (
	"errors"
	"strings"

	"github.com/JonMunkholm/lims/internal/core"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var errRowGone = &core.Error{Kind: core.KindInternal, Code: core.CodeUnknown,
	Message: "record was deleted while the import ran"}

// classify translates SQLite result codes into *core.Error. Extended
// constraint codes keep their row-level meaning; busy and locked databases
// are transient; I/O and corruption are fatal.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := core.AsError(err); ok {
		return err
	}

	var sqlErr *sqlitedrv.Error
	if !errors.As(err, &sqlErr) {
		return core.Classify(err)
	}

	code := sqlErr.Code()
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return core.ConstraintViolation(core.CodeUniqueViolation, constraintTarget(err), true, err)
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return core.ConstraintViolation(core.CodeForeignKey, constraintTarget(err), false, err)
	case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
		return core.ConstraintViolation(core.CodeNotNull, constraintTarget(err), false, err)
	case sqlite3.SQLITE_CONSTRAINT_CHECK:
		return core.ConstraintViolation(core.CodeCheckViolation, constraintTarget(err), false, err)
	}

	switch code & 0xff {
	case sqlite3.SQLITE_CONSTRAINT:
		return core.ConstraintViolation(core.CodeCheckViolation, constraintTarget(err), false, err)
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return core.Transient(core.CodeBusy, err)
	case sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_FULL, sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB:
		return core.ConnectionFailure(core.CodeFatal, err)
	}
	return &core.Error{Kind: core.KindInternal, Code: core.CodeUnknown, Err: err}
}

// constraintTarget extracts what SQLite names in a constraint message, such
// as "specimens.project_id, specimens.tube_id" from
// "UNIQUE constraint failed: specimens.project_id, specimens.tube_id".
func constraintTarget(err error) string {
	msg := err.Error()
	const marker = "constraint failed: "
	i := strings.LastIndex(msg, marker)
	if i < 0 {
		return ""
	}
	target := msg[i+len(marker):]
	if j := strings.Index(target, " ("); j >= 0 {
		target = target[:j]
	}
	return strings.TrimSpace(target)
}
