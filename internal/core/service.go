package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/JonMunkholm/lims/internal/config"
	"github.com/JonMunkholm/lims/internal/logging"
	"github.com/google/uuid"
)

// Import statuses, used in results, history and metrics.
const (
	StatusCompleted = "completed"
	StatusRejected  = "rejected"
	StatusFailed    = "failed"
	StatusAborted   = "aborted"
)

// maxReportedErrors caps the row errors returned by an import.
const maxReportedErrors = 200

// maxReportedAssignments caps the assigned numbers returned by an import.
const maxReportedAssignments = 1000

// Service provides the import and identifier operations.
type Service struct {
	store   Store
	cfg     config.ImportConfig
	ids     *IdentifierService
	limiter *ImportLimiter
	metrics *Metrics
	audit   AuditSink
	history *ImportHistory
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics replaces the service's metrics.
func WithMetrics(m *Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithAuditSink sets where audit entries go. The default logs them.
func WithAuditSink(a AuditSink) Option { return func(s *Service) { s.audit = a } }

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithHistory replaces the import history.
func WithHistory(h *ImportHistory) Option { return func(s *Service) { s.history = h } }

// NewService creates the import service on top of store.
func NewService(store Store, cfg config.ImportConfig, opts ...Option) *Service {
	s := &Service{
		store:   store,
		cfg:     cfg,
		limiter: NewImportLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime),
		history: NewImportHistory(DefaultHistoryLimit),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics("")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.audit == nil {
		s.audit = NewLogAuditSink(s.logger)
	}
	s.ids = NewIdentifierService(store, s.metrics)
	return s
}

// ImportRequest is one uploaded file to preview or import.
type ImportRequest struct {
	Entity   EntityType
	FileName string
	Body     io.Reader
	Options  ImportOptions
}

// RowError is a row-scoped error as reported to clients.
type RowError struct {
	Line       int    `json:"line"`
	Field      string `json:"field,omitempty"`
	Kind       Kind   `json:"kind"`
	Code       string `json:"code"`
	Constraint string `json:"constraint,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	Message    string `json:"message"`
}

func newRowError(e *Error) RowError {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return RowError{
		Line:       e.Line,
		Field:      e.Field,
		Kind:       e.Kind,
		Code:       e.Code,
		Constraint: e.Constraint,
		Retryable:  e.Retryable,
		Message:    msg,
	}
}

// ImportResult summarizes an import. It is returned alongside failures too,
// so callers can always show what was committed.
type ImportResult struct {
	ImportID          string                     `json:"importId"`
	Entity            EntityType                 `json:"entity"`
	FileName          string                     `json:"fileName"`
	Mode              string                     `json:"mode"`
	Status            string                     `json:"status"`
	TotalRows         int                        `json:"totalRows"`
	Processed         int                        `json:"processed"`
	Created           int                        `json:"created"`
	Updated           int                        `json:"updated"`
	DuplicatesSkipped int                        `json:"duplicatesSkipped"`
	Failed            int                        `json:"failed"`
	NotAttempted      int                        `json:"notAttempted,omitempty"`
	Errors            []RowError                 `json:"errors"`
	TotalErrors       int                        `json:"totalErrors"`
	Warnings          []string                   `json:"warnings,omitempty"`
	Mapping           MappingFeedback            `json:"mapping"`
	Resolution        Resolution                 `json:"resolution"`
	References        map[string]ReferenceCounts `json:"references,omitempty"`
	Assigned          []Assignment               `json:"assigned,omitempty"`
	Summary           TrackerSummary             `json:"summary"`
	Aborted           bool                       `json:"aborted,omitempty"`
	AbortReason       string                     `json:"abortReason,omitempty"`
	RolledBack        bool                       `json:"rolledBack,omitempty"`
	DurationMs        int64                      `json:"durationMs"`
}

// FailureRate is failed / (processed + failed), or 0 when nothing was tried.
func (r *ImportResult) FailureRate() float64 {
	attempted := r.Processed + r.Failed
	if attempted == 0 {
		return 0
	}
	return float64(r.Failed) / float64(attempted)
}

// EvaluateOutcome decides whether a finished import must be reported as a
// failure even though some rows may have committed: nothing imported from a
// non-empty file, too high a failure rate, or an early stop.
func EvaluateOutcome(r *ImportResult, highFailureRate float64) error {
	if highFailureRate <= 0 {
		highFailureRate = DefaultHighFailureRate
	}

	if r.TotalRows > 0 && r.Processed == 0 && r.DuplicatesSkipped < r.TotalRows {
		return &Error{
			Kind:    KindNothingProcessed,
			Code:    string(KindNothingProcessed),
			Message: fmt.Sprintf("no rows were imported: %d of %d rows failed", r.Failed, r.TotalRows),
		}
	}
	if rate := r.FailureRate(); rate > highFailureRate {
		return &Error{
			Kind: KindHighFailureRate,
			Code: string(KindHighFailureRate),
			Message: fmt.Sprintf("%.0f%% of rows failed (%d of %d), above the %.0f%% limit",
				rate*100, r.Failed, r.Processed+r.Failed, highFailureRate*100),
		}
	}
	if r.Aborted {
		return &Error{
			Kind:    KindHighFailureRate,
			Code:    string(KindHighFailureRate),
			Message: "import stopped early: " + r.AbortReason,
		}
	}
	return nil
}

// Execute runs the full import pipeline and writes. The result is non-nil
// whenever the file could be read, including when err reports a rejected or
// failed import.
func (s *Service) Execute(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	def, ok := Get(req.Entity)
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", req.Entity)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()
	s.metrics.activeImports.Inc()
	defer s.metrics.activeImports.Dec()

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	started := time.Now()
	opts := req.Options
	result := &ImportResult{
		ImportID: uuid.NewString(),
		Entity:   def.Info.Entity,
		FileName: req.FileName,
		Mode:     modeOf(opts),
	}
	logger := logging.WithFields(ctx,
		"import_id", result.ImportID,
		"entity", def.Info.Entity,
		"file", req.FileName,
	)

	sheet, err := Decode(req.FileName, req.Body, s.cfg.MaxFileSize)
	if err != nil {
		return nil, err
	}
	result.TotalRows = len(sheet.Rows)
	logger.Info("import started", "rows", result.TotalRows, "mode", result.Mode, "format", sheet.Format)

	p, err := s.prepare(ctx, def, sheet.Headers, sheet.Rows, opts)
	if err != nil {
		return s.finish(ctx, logger, result, started, Classify(err))
	}
	p.fill(result)

	kept, skipped, err := ApplyDuplicatePolicy(p.records, opts)
	result.DuplicatesSkipped = skipped
	if err != nil {
		return s.finish(ctx, logger, result, started, err)
	}

	if opts.Preserve {
		errs, err := PlanPreserved(ctx, s.store, def, kept)
		if err != nil {
			return s.finish(ctx, logger, result, started, Classify(err))
		}
		kept = p.reject(kept, errs)
	}

	tracker := NewErrorTracker(s.cfg.AbortMinAttempts, s.cfg.AbortFailureRate)
	for _, line := range p.failedOrder {
		tracker.RecordFailure(p.failed[line][0])
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = s.cfg.BatchSize
	}
	orch := NewOrchestrator(s.store, s.ids, tracker, s.metrics, logger, batchSize)
	run, runErr := orch.Run(ctx, def, kept)

	if n := len(p.failed); n > 0 {
		s.metrics.rows(def.Info.Entity, OutcomeFailed, n)
	}
	s.metrics.rows(def.Info.Entity, OutcomeSkipped, skipped)

	result.Created = run.Created
	result.Updated = run.Updated
	result.Processed = run.Created + run.Updated
	result.Failed = len(p.failed) + run.Failed
	result.NotAttempted = run.Remaining
	result.Aborted = run.Aborted
	result.AbortReason = run.AbortReason
	result.RolledBack = run.RolledBack
	result.Summary = tracker.Summary()
	if len(run.Assigned) > maxReportedAssignments {
		result.Assigned = run.Assigned[:maxReportedAssignments]
	} else {
		result.Assigned = run.Assigned
	}
	p.setErrors(result, run.Errors)

	if runErr == nil {
		runErr = EvaluateOutcome(result, s.cfg.HighFailureRate)
	}
	return s.finish(ctx, logger, result, started, runErr)
}

// finish records the import's status, metrics, audit entry and history.
func (s *Service) finish(ctx context.Context, logger *slog.Logger, r *ImportResult, started time.Time, err error) (*ImportResult, error) {
	duration := time.Since(started)
	r.DurationMs = duration.Milliseconds()

	action := ActionImport
	switch {
	case err == nil:
		r.Status = StatusCompleted
	case IsKind(err, KindDuplicatesRejected):
		r.Status = StatusRejected
		action = ActionImportRejected
	case IsCritical(err):
		r.Status = StatusAborted
		action = ActionImportFailed
	default:
		r.Status = StatusFailed
		action = ActionImportFailed
	}

	s.metrics.run(r.Entity, r.Status, duration.Seconds())
	s.history.Add(ImportSummary{
		ImportID:          r.ImportID,
		Entity:            r.Entity,
		FileName:          r.FileName,
		Status:            r.Status,
		TotalRows:         r.TotalRows,
		Created:           r.Created,
		Updated:           r.Updated,
		Failed:            r.Failed,
		DuplicatesSkipped: r.DuplicatesSkipped,
		StartedAt:         started,
		DurationMs:        r.DurationMs,
	})

	entry := newAuditEntry(ctx, action, r.Entity, r.Processed)
	entry.ID = uuid.NewString()
	entry.ImportID = r.ImportID
	entry.FileName = r.FileName
	entry.Reason = fmt.Sprintf("%s: %d created, %d updated, %d skipped, %d failed",
		r.Status, r.Created, r.Updated, r.DuplicatesSkipped, r.Failed)
	if err != nil {
		entry.Reason += "; " + err.Error()
	}
	if auditErr := s.audit.RecordAudit(context.WithoutCancel(ctx), entry); auditErr != nil {
		logger.Warn("audit write failed", "error", auditErr)
	}

	attrs := []any{
		"status", r.Status,
		"created", r.Created,
		"updated", r.Updated,
		"skipped", r.DuplicatesSkipped,
		"failed", r.Failed,
		"duration_ms", r.DurationMs,
	}
	switch {
	case err == nil:
		logger.Info("import finished", attrs...)
	case IsCritical(err):
		logger.Error("import aborted", append(attrs, "error", err)...)
	default:
		logger.Warn("import failed", append(attrs, "error", err)...)
	}
	return r, err
}

// prepared holds the rows that passed mapping, validation and reference
// resolution, and the errors of those that did not.
type prepared struct {
	def         TableDefinition
	mapping     ColumnMapping
	records     []*Record
	failed      map[int][]*Error
	failedOrder []int
	warnings    []string
	refs        ReferenceResult
	resolution  Resolution
}

// prepare maps, validates and resolves rows, then classifies them as new or
// existing. It never writes.
func (s *Service) prepare(ctx context.Context, def TableDefinition, headers []string, rows []SheetRow, opts ImportOptions) (*prepared, error) {
	for field := range opts.Defaults {
		if _, ok := def.Field(field); !ok {
			return nil, &Error{Kind: KindValidation, Code: CodeInvalidEnum, Field: field,
				Message: fmt.Sprintf("default for unknown field %q", field)}
		}
	}

	p := &prepared{
		def:     def,
		mapping: NewColumnMapper(def).Map(headers),
		failed:  make(map[int][]*Error),
	}
	p.warnings = append(p.warnings, p.mapping.Feedback.Warnings()...)
	for _, f := range def.FieldSpecs {
		if f.Required && !p.mapping.Has(f.Name) && opts.Defaults[f.Name] == "" {
			p.warnings = append(p.warnings, fmt.Sprintf("required field %s has no column", f.Label()))
		}
	}

	validator := NewValidator(def, opts.Preserve)
	records := make([]*Record, 0, len(rows))
	for _, row := range rows {
		values := p.mapping.Extract(row.Cells)
		for field, v := range opts.Defaults {
			if values[field] == "" {
				values[field] = v
			}
		}
		if errs := validator.Validate(row.Line, values); len(errs) > 0 {
			p.addFailure(row.Line, errs...)
			continue
		}
		records = append(records, &Record{Line: row.Line, Values: values})
	}

	refs, err := ResolveReferences(ctx, s.store, def, records)
	if err != nil {
		return nil, err
	}
	p.refs = refs
	p.warnings = append(p.warnings, refs.Warnings...)
	records = p.reject(records, refs.Errors)

	keyColumns := def.KeyFields(opts.Preserve, opts.ScopeToProject)
	resolution, err := NewDuplicateResolver(s.store, def, keyColumns).Resolve(ctx, records)
	if err != nil {
		return nil, err
	}
	p.resolution = resolution
	p.records = p.reject(records, resolution.Errors)
	return p, nil
}

func (p *prepared) addFailure(line int, errs ...*Error) {
	if _, seen := p.failed[line]; !seen {
		p.failedOrder = append(p.failedOrder, line)
	}
	p.failed[line] = append(p.failed[line], errs...)
}

// reject records errs against their rows and returns records without them.
func (p *prepared) reject(records []*Record, errs []*Error) []*Record {
	if len(errs) == 0 {
		return records
	}
	bad := make(map[int]bool, len(errs))
	for _, e := range errs {
		p.addFailure(e.Line, e)
		bad[e.Line] = true
	}
	kept := records[:0:0]
	for _, rec := range records {
		if !bad[rec.Line] {
			kept = append(kept, rec)
		}
	}
	return kept
}

// fill copies the preparation feedback into an import result.
func (p *prepared) fill(r *ImportResult) {
	r.Mapping = p.mapping.Feedback
	r.Resolution = p.resolution
	r.References = p.refs.Counts
	r.Warnings = p.warnings
}

// setErrors merges preparation and write errors in line order, capped.
func (p *prepared) setErrors(r *ImportResult, runErrs []*Error) {
	all := make([]*Error, 0, len(p.failed)+len(runErrs))
	for _, line := range p.failedOrder {
		all = append(all, p.failed[line]...)
	}
	all = append(all, runErrs...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Line < all[j].Line })

	r.TotalErrors = len(all)
	r.Errors = make([]RowError, 0, min(len(all), maxReportedErrors))
	for _, e := range all {
		if len(r.Errors) == maxReportedErrors {
			break
		}
		r.Errors = append(r.Errors, newRowError(e))
	}
}

func modeOf(opts ImportOptions) string {
	if opts.Preserve {
		return ModePreserve
	}
	return ModeGenerate
}

// ----------------------------------------------------------------------------
// Identifier operations
// ----------------------------------------------------------------------------

// PeekNumber returns the next number for entity without consuming it.
func (s *Service) PeekNumber(ctx context.Context, entity EntityType) (int64, error) {
	if _, ok := Get(entity); !ok {
		return 0, fmt.Errorf("unknown entity type %q", entity)
	}
	return s.ids.Peek(ctx, entity)
}

// AllocateNumber consumes and returns the next number for entity.
func (s *Service) AllocateNumber(ctx context.Context, entity EntityType) (int64, error) {
	if _, ok := Get(entity); !ok {
		return 0, fmt.Errorf("unknown entity type %q", entity)
	}
	n, err := s.ids.Allocate(ctx, entity)
	if err != nil {
		return 0, err
	}

	entry := newAuditEntry(ctx, ActionNumberAllocation, entity, 1)
	entry.ID = uuid.NewString()
	entry.Reason = fmt.Sprintf("allocated %s number %d", entity, n)
	if auditErr := s.audit.RecordAudit(context.WithoutCancel(ctx), entry); auditErr != nil {
		logging.FromContext(ctx).Warn("audit write failed", "error", auditErr)
	}
	return n, nil
}

// ----------------------------------------------------------------------------
// Introspection
// ----------------------------------------------------------------------------

// FieldInfo describes one importable field.
type FieldInfo struct {
	Name       string   `json:"name"`
	Label      string   `json:"label"`
	Type       string   `json:"type"`
	Required   bool     `json:"required,omitempty"`
	Aliases    []string `json:"aliases"`
	EnumValues []string `json:"enumValues,omitempty"`
	References string   `json:"references,omitempty"`
	Stored     bool     `json:"stored"`
}

// EntityInfo describes one importable entity.
type EntityInfo struct {
	Entity       EntityType  `json:"entity"`
	Label        string      `json:"label"`
	Table        string      `json:"table"`
	NumberColumn string      `json:"numberColumn"`
	NaturalKey   []string    `json:"naturalKey"`
	Fields       []FieldInfo `json:"fields"`
}

// Entities lists every registered entity in dependency order.
func (s *Service) Entities() []EntityInfo {
	defs := All()
	out := make([]EntityInfo, 0, len(defs))
	for _, def := range defs {
		info := EntityInfo{
			Entity:       def.Info.Entity,
			Label:        def.Info.Label,
			Table:        def.Info.Table,
			NumberColumn: def.Info.NumberColumn,
			NaturalKey:   def.NaturalKey,
		}
		for _, f := range def.FieldSpecs {
			fi := FieldInfo{
				Name:       f.Name,
				Label:      f.Label(),
				Type:       f.Type.String(),
				Required:   f.Required,
				Aliases:    f.Aliases,
				EnumValues: f.EnumValues,
				Stored:     !f.Unsupported,
			}
			if ref, ok := def.ReferenceFor(f.Name); ok {
				fi.References = string(ref.Entity)
			}
			info.Fields = append(info.Fields, fi)
		}
		out = append(out, info)
	}
	return out
}

// History returns recent imports, newest first.
func (s *Service) History(entity EntityType, limit int) []ImportSummary {
	return s.history.Recent(entity, limit)
}

// LimiterStatus reports import slot usage.
func (s *Service) LimiterStatus() LimiterStatus { return s.limiter.Status() }

// WaitForImports blocks until running imports finish or ctx is done.
func (s *Service) WaitForImports(ctx context.Context) error { return s.limiter.WaitForDrain(ctx) }

// Metrics returns the service's collectors.
func (s *Service) Metrics() *Metrics { return s.metrics }

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }
