package core

// errors.go defines the tagged error type shared by every import stage.
//
// A row-level problem (bad date, duplicate identifier, constraint violation)
// is recorded against its row and the import continues. An infrastructure
// problem (lost connection, failed allocation) is critical: the current batch
// rolls back and the import stops. Store implementations translate driver
// errors into *Error so the orchestrator never inspects driver types.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// Kind groups errors by how the orchestrator reacts to them.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindMapping             Kind = "mapping"
	KindDuplicateIdentifier Kind = "duplicate_identifier"
	KindConstraint          Kind = "constraint"
	KindTransient           Kind = "transient"
	KindAllocation          Kind = "allocation"
	KindConnection          Kind = "connection"
	KindDuplicatesRejected  Kind = "duplicates_rejected"
	KindHighFailureRate     Kind = "high_failure_rate"
	KindNothingProcessed    Kind = "nothing_processed"
	KindInternal            Kind = "internal"
)

// Fine-grained codes carried in Error.Code.
const (
	CodeMissingField        = "missing_field"
	CodeInvalidEnum         = "invalid_enum"
	CodeInvalidDate         = "invalid_date"
	CodeInvalidBoolean      = "invalid_boolean"
	CodeInvalidNumber       = "invalid_number"
	CodeInvalidIdentifier   = "invalid_identifier"
	CodeUnresolvedReference = "unresolved_reference"
	CodeDuplicateIdentifier = "duplicate_identifier"
	CodeDuplicateOfFailed   = "duplicate_of_failed_row"
	CodeAmbiguousKey        = "ambiguous_key"
	CodeUniqueViolation     = "unique_violation"
	CodeForeignKey          = "foreign_key_violation"
	CodeNotNull             = "not_null_violation"
	CodeCheckViolation      = "check_violation"
	CodeSerialization       = "serialization_failure"
	CodeDeadlock            = "deadlock"
	CodeBusy                = "busy"
	CodeConnectionReset     = "connection_reset"
	CodeConnectionRefused   = "connection_refused"
	CodeHostNotFound        = "host_not_found"
	CodeTimeout             = "timeout"
	CodeCancelled           = "cancelled"
	CodeFatal               = "fatal"
	CodeAllocationFailed    = "allocation_failed"
	CodeUnknown             = "unknown"
)

// Error is the single error type produced by the import engine.
type Error struct {
	Kind       Kind
	Code       string
	Line       int    // spreadsheet row, 0 when not row-scoped
	Field      string // canonical field, when known
	Constraint string // violated database constraint, when known
	Retryable  bool
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Line > 0 {
		fmt.Fprintf(&b, "row %d: ", e.Line)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, "%s: ", e.Field)
	}
	switch {
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(string(e.Kind))
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Critical reports whether the error must roll back the current batch and
// stop the import.
func (e *Error) Critical() bool {
	return e.Kind == KindAllocation || e.Kind == KindConnection
}

// Class is the key the error tracker groups failures by.
func (e *Error) Class() string {
	if e.Code != "" {
		return e.Code
	}
	return string(e.Kind)
}

// WithLine returns a copy of e scoped to a spreadsheet row.
func (e *Error) WithLine(line int) *Error {
	c := *e
	c.Line = line
	return &c
}

// AsError unwraps err to *Error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == kind
}

// IsCritical reports whether err is a critical import error.
func IsCritical(err error) bool {
	e, ok := AsError(err)
	return ok && e.Critical()
}

// ----------------------------------------------------------------------------
// Constructors
// ----------------------------------------------------------------------------

func MissingField(line int, field string) *Error {
	return &Error{Kind: KindValidation, Code: CodeMissingField, Line: line, Field: field,
		Message: "required field is empty"}
}

func InvalidEnum(line int, field, value string, allowed []string) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidEnum, Line: line, Field: field,
		Message: fmt.Sprintf("invalid value %q (allowed: %s)", value, strings.Join(allowed, ", "))}
}

func InvalidDate(line int, field, value string) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidDate, Line: line, Field: field,
		Message: fmt.Sprintf("invalid date %q (use YYYY-MM-DD)", value)}
}

func InvalidBoolean(line int, field, value string) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidBoolean, Line: line, Field: field,
		Message: fmt.Sprintf("invalid boolean %q (use yes/no, true/false, 1/0)", value)}
}

func InvalidNumber(line int, field, value string) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidNumber, Line: line, Field: field,
		Message: fmt.Sprintf("invalid number %q", value)}
}

func InvalidIdentifier(line int, field, value string) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidIdentifier, Line: line, Field: field,
		Message: fmt.Sprintf("identifier %q must be a positive whole number", value)}
}

func UnresolvedReference(line int, field, value string, entity EntityType) *Error {
	return &Error{Kind: KindValidation, Code: CodeUnresolvedReference, Line: line, Field: field,
		Message: fmt.Sprintf("no %s found for %q", entity, value)}
}

// DuplicateIdentifier reports a preserved identifier already used in the file
// or in the store.
func DuplicateIdentifier(line int, field string, number int64, where string) *Error {
	return &Error{Kind: KindDuplicateIdentifier, Code: CodeDuplicateIdentifier, Line: line, Field: field,
		Message: fmt.Sprintf("identifier %d already exists %s", number, where)}
}

// DuplicateOfFailedRow reports a row repeating the natural key of an earlier
// row that was not imported, so there is nothing for it to update.
func DuplicateOfFailedRow(line, firstLine int) *Error {
	return &Error{Kind: KindValidation, Code: CodeDuplicateOfFailed, Line: line,
		Message: fmt.Sprintf("repeats row %d, which was not imported", firstLine)}
}

// AmbiguousKey reports a natural key matching several stored rows, such as a
// tube id reused across projects in an import that is not project-scoped.
func AmbiguousKey(line int, key string, matches int, entity EntityType) *Error {
	return &Error{Kind: KindValidation, Code: CodeAmbiguousKey, Line: line,
		Message: fmt.Sprintf("%s matches %d stored %s rows; import with scopeToProject", key, matches, entity)}
}

// ConstraintViolation wraps a database constraint failure.
func ConstraintViolation(code, constraint string, retryable bool, err error) *Error {
	msg := "constraint violation"
	if constraint != "" {
		msg = fmt.Sprintf("constraint %s violated", constraint)
	}
	return &Error{Kind: KindConstraint, Code: code, Constraint: constraint, Retryable: retryable,
		Message: msg, Err: err}
}

// Transient wraps a retryable concurrency failure such as a deadlock.
func Transient(code string, err error) *Error {
	return &Error{Kind: KindTransient, Code: code, Retryable: true, Err: err}
}

// ConnectionFailure wraps a lost or unusable database connection.
func ConnectionFailure(code string, err error) *Error {
	return &Error{Kind: KindConnection, Code: code, Retryable: true,
		Message: "database connection failed", Err: err}
}

// AllocationFailed wraps a failure to reserve sequential numbers.
func AllocationFailed(entity EntityType, err error) *Error {
	return &Error{Kind: KindAllocation, Code: CodeAllocationFailed,
		Message: fmt.Sprintf("could not allocate %s identifiers", entity), Err: err}
}

// DuplicatesRejected reports existing rows found while neither skipping nor
// updating duplicates.
func DuplicatesRejected(count int, sample []string) *Error {
	msg := fmt.Sprintf("%d rows match existing records; choose skip or update for duplicates", count)
	if len(sample) > 0 {
		msg += " (e.g. " + strings.Join(sample, "; ") + ")"
	}
	return &Error{Kind: KindDuplicatesRejected, Code: string(KindDuplicatesRejected), Message: msg}
}

// ----------------------------------------------------------------------------
// Classification
// ----------------------------------------------------------------------------

// Classify converts any error into *Error. Errors already tagged pass through;
// network and context failures become critical connection errors; anything
// else is an ordinary internal error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ConnectionFailure(CodeCancelled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return ConnectionFailure(CodeTimeout, err)
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return ConnectionFailure(CodeConnectionReset, err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return ConnectionFailure(CodeConnectionRefused, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ConnectionFailure(CodeHostNotFound, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ConnectionFailure(CodeTimeout, err)
		}
		return ConnectionFailure(CodeConnectionReset, err)
	}

	return &Error{Kind: KindInternal, Code: CodeUnknown, Err: err}
}
