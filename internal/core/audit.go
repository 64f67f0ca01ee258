package core

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionImport           AuditAction = "import"
	ActionImportRejected   AuditAction = "import_rejected"
	ActionImportFailed     AuditAction = "import_failed"
	ActionNumberAllocation AuditAction = "number_allocation"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	SeverityLow      AuditSeverity = "low"
	SeverityMedium   AuditSeverity = "medium"
	SeverityHigh     AuditSeverity = "high"
	SeverityCritical AuditSeverity = "critical"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID           string        `json:"id"`
	Action       AuditAction   `json:"action"`
	Severity     AuditSeverity `json:"severity"`
	Entity       EntityType    `json:"entity"`
	ImportID     string        `json:"importId,omitempty"`
	FileName     string        `json:"fileName,omitempty"`
	IPAddress    string        `json:"ipAddress,omitempty"`
	UserAgent    string        `json:"userAgent,omitempty"`
	RowsAffected int           `json:"rowsAffected,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// AuditSink persists audit entries. Writing the audit trail is never allowed
// to fail an import; the service logs sink errors and moves on.
type AuditSink interface {
	RecordAudit(ctx context.Context, entry AuditEntry) error
}

// determineSeverity returns the appropriate severity for an action.
func determineSeverity(action AuditAction, rows int) AuditSeverity {
	switch action {
	case ActionImport:
		if rows == 0 {
			return SeverityLow
		}
		return SeverityHigh
	case ActionImportFailed:
		return SeverityCritical
	case ActionImportRejected:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// newAuditEntry fills the request metadata carried by ctx.
func newAuditEntry(ctx context.Context, action AuditAction, entity EntityType, rows int) AuditEntry {
	who := RequesterFrom(ctx)
	return AuditEntry{
		Action:       action,
		Severity:     determineSeverity(action, rows),
		Entity:       entity,
		IPAddress:    who.IPAddress,
		UserAgent:    who.UserAgent,
		RowsAffected: rows,
		CreatedAt:    time.Now().UTC(),
	}
}

// LogAuditSink writes audit entries as structured log lines.
type LogAuditSink struct {
	logger *slog.Logger
}

// NewLogAuditSink creates a sink on logger, or the default logger when nil.
func NewLogAuditSink(logger *slog.Logger) *LogAuditSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAuditSink{logger: logger}
}

// RecordAudit implements AuditSink.
func (s *LogAuditSink) RecordAudit(ctx context.Context, e AuditEntry) error {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("audit_id", e.ID),
		slog.String("action", string(e.Action)),
		slog.String("severity", string(e.Severity)),
		slog.String("entity", string(e.Entity)),
		slog.String("import_id", e.ImportID),
		slog.String("file", e.FileName),
		slog.String("ip", e.IPAddress),
		slog.Int("rows", e.RowsAffected),
		slog.String("reason", e.Reason),
	)
	return nil
}

// MultiAuditSink fans an entry out to several sinks.
type MultiAuditSink []AuditSink

// RecordAudit implements AuditSink, joining every sink error.
func (m MultiAuditSink) RecordAudit(ctx context.Context, e AuditEntry) error {
	var errs []error
	for _, s := range m {
		if err := s.RecordAudit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DefaultAuditLimit caps audit queries without an explicit limit.
const DefaultAuditLimit = 100

// AuditFilter narrows an audit query. Zero fields are ignored.
type AuditFilter struct {
	Action   AuditAction
	Entity   EntityType
	Severity AuditSeverity
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// AuditReader is implemented by stores that keep the audit trail.
type AuditReader interface {
	ListAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// ErrAuditUnavailable is returned when no configured sink can be queried.
var ErrAuditUnavailable = errors.New("audit log is not queryable")

// AuditLog returns stored audit entries, newest first.
func (s *Service) AuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	r, ok := s.store.(AuditReader)
	if !ok {
		return nil, ErrAuditUnavailable
	}
	if f.Limit <= 0 {
		f.Limit = DefaultAuditLimit
	}
	return r.ListAudit(ctx, f)
}
