package core

// orchestrator.go applies resolved records to the store in batches.
//
// Rollback policy:
//   - Row failures commit. Each row runs inside a savepoint; a failing
//     statement is rolled back to it and the rest of the batch goes on.
//   - Infrastructure failures roll back the batch. A critical error
//     (connection, allocation, savepoint or commit failure) discards the
//     whole batch and stops the import. Earlier batches stay committed.
//
// Numbers for new rows are allocated before the batch transaction begins, so
// a rolled-back batch leaves gaps in the sequence but never reuses a number.

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultBatchSize is the number of rows committed per transaction.
const DefaultBatchSize = 500

// Assignment records the number given to a created row.
type Assignment struct {
	Line      int   `json:"line"`
	Number    int64 `json:"number"`
	Preserved bool  `json:"preserved,omitempty"`
}

// RunResult is the outcome of applying records.
type RunResult struct {
	Created     int
	Updated     int
	Failed      int
	Errors      []*Error
	Assigned    []Assignment
	Batches     int // committed batches
	RolledBack  bool
	Aborted     bool
	AbortReason string
	Remaining   int // rows never attempted because the run stopped
}

// Orchestrator writes records batch by batch, reporting every row outcome to
// an ErrorTracker.
type Orchestrator struct {
	store     Store
	ids       *IdentifierService
	tracker   *ErrorTracker
	metrics   *Metrics
	logger    *slog.Logger
	batchSize int

	// created maps natural keys to rows inserted by this run, so a later row
	// with the same key updates the inserted row.
	created map[string]*Record
}

// NewOrchestrator creates an orchestrator. metrics and logger may be nil.
func NewOrchestrator(store Store, ids *IdentifierService, tracker *ErrorTracker, metrics *Metrics, logger *slog.Logger, batchSize int) *Orchestrator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     store,
		ids:       ids,
		tracker:   tracker,
		metrics:   metrics,
		logger:    logger,
		batchSize: batchSize,
		created:   make(map[string]*Record),
	}
}

// Run applies records in file order. Skipped records are ignored. A critical
// error is returned together with the partial result; row errors are only
// reported in the result.
func (o *Orchestrator) Run(ctx context.Context, def TableDefinition, records []*Record) (*RunResult, error) {
	res := &RunResult{}

	work := make([]*Record, 0, len(records))
	for _, rec := range records {
		if rec.Action != ActionSkip {
			work = append(work, rec)
		}
	}

	// Preserved numbers are reserved for the whole file before any batch
	// generates one, so an early batch cannot take a number a later row owns.
	if err := o.reservePreserved(ctx, def.Info.Entity, work); err != nil {
		return o.stop(res, len(work), Classify(err))
	}

	for start := 0; start < len(work); start += o.batchSize {
		end := min(start+o.batchSize, len(work))

		if err := ctx.Err(); err != nil {
			return o.stop(res, len(work)-start, Classify(err))
		}

		if err := o.runBatch(ctx, def, work[start:end], res); err != nil {
			res.RolledBack = true
			return o.stop(res, len(work)-start, Classify(err))
		}

		if abort, reason := o.tracker.ShouldAbortOperation(); abort && end < len(work) {
			res.Aborted = true
			res.AbortReason = reason
			res.Remaining = len(work) - end
			o.logger.Warn("import aborted",
				"entity", def.Info.Entity,
				"reason", reason,
				"remaining", res.Remaining,
			)
			return res, nil
		}
	}

	return res, nil
}

func (o *Orchestrator) stop(res *RunResult, remaining int, err *Error) (*RunResult, error) {
	o.tracker.RecordCritical(err)
	res.Aborted = true
	res.Remaining = remaining
	_, res.AbortReason = o.tracker.ShouldAbortOperation()
	return res, err
}

// runBatch applies one batch in its own transaction. Row errors are appended
// to res; the returned error is always critical and means the batch was
// rolled back.
func (o *Orchestrator) runBatch(ctx context.Context, def TableDefinition, batch []*Record, res *RunResult) error {
	started := time.Now()
	entity := def.Info.Entity

	if err := o.assignNumbers(ctx, def, batch); err != nil {
		return err
	}

	tx, err := o.store.BeginBatch(ctx)
	if err != nil {
		return criticalFailure("begin batch", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				o.logger.Error("batch rollback failed", "entity", entity, "error", rbErr)
			}
			if o.metrics != nil {
				o.metrics.batch(entity, "rolled_back", time.Since(started).Seconds())
			}
		}
	}()

	var applied []*Record
	var rowErrs []*Error
	for i, rec := range batch {
		sp := fmt.Sprintf("sp_%d", i)
		if err := tx.Savepoint(ctx, sp); err != nil {
			return criticalFailure("create savepoint", err)
		}

		if applyErr := o.apply(ctx, tx, def, rec); applyErr != nil {
			e := Classify(applyErr)
			if e.Line == 0 {
				e = e.WithLine(rec.Line)
			}
			if e.Critical() {
				return e
			}
			if err := tx.RollbackTo(ctx, sp); err != nil {
				return criticalFailure("rollback to savepoint", err)
			}
			rowErrs = append(rowErrs, e)
			continue
		}

		if err := tx.Release(ctx, sp); err != nil {
			return criticalFailure("release savepoint", err)
		}
		applied = append(applied, rec)
	}

	if err := tx.Commit(ctx); err != nil {
		return criticalFailure("commit batch", err)
	}
	committed = true
	res.Batches++

	for _, e := range rowErrs {
		o.tracker.RecordFailure(e)
		res.Failed++
		res.Errors = append(res.Errors, e)
	}

	var created, updated int
	for _, rec := range applied {
		switch rec.Action {
		case ActionCreate:
			created++
			res.Assigned = append(res.Assigned, Assignment{Line: rec.Line, Number: rec.Number, Preserved: rec.Preserved})
		case ActionUpdate:
			updated++
		}
		o.tracker.RecordSuccess(fmt.Sprintf("row %d (%s %d)", rec.Line, entity, rec.Number))
	}
	res.Created += created
	res.Updated += updated

	if o.metrics != nil {
		o.metrics.batch(entity, "committed", time.Since(started).Seconds())
		o.metrics.rows(entity, OutcomeCreated, created)
		o.metrics.rows(entity, OutcomeUpdated, updated)
		o.metrics.rows(entity, OutcomeFailed, len(rowErrs))
	}

	o.logger.Debug("batch committed",
		"entity", entity,
		"rows", len(batch),
		"created", created,
		"updated", updated,
		"failed", len(rowErrs),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

// reservePreserved moves the counter past the highest preserved number of
// the new records.
func (o *Orchestrator) reservePreserved(ctx context.Context, entity EntityType, records []*Record) error {
	var maxPreserved int64
	var preserved int
	for _, rec := range records {
		if rec.Action == ActionCreate && rec.Preserved {
			preserved++
			maxPreserved = max(maxPreserved, rec.Number)
		}
	}
	if preserved == 0 {
		return nil
	}
	return o.ids.Reserve(ctx, entity, maxPreserved, preserved)
}

// assignNumbers allocates a contiguous block for the batch's new rows without
// a preserved number, then fills derived fields.
func (o *Orchestrator) assignNumbers(ctx context.Context, def TableDefinition, batch []*Record) error {
	entity := def.Info.Entity

	var pending []*Record
	for _, rec := range batch {
		if rec.Action == ActionCreate && !rec.Preserved && rec.Number == 0 {
			pending = append(pending, rec)
		}
	}

	numbers, err := o.ids.AllocateN(ctx, entity, len(pending))
	if err != nil {
		return err
	}
	for i, rec := range pending {
		rec.Number = numbers[i]
	}

	if def.Derive != nil {
		for _, rec := range batch {
			if rec.Action == ActionCreate {
				def.Derive(rec.Number, rec.Values)
			}
		}
	}
	return nil
}

// apply writes one record. Updates target the stored row matched by natural
// key, or the row this run created for an earlier line with the same key.
func (o *Orchestrator) apply(ctx context.Context, tx BatchTx, def TableDefinition, rec *Record) error {
	switch rec.Action {
	case ActionCreate:
		id, err := tx.Insert(ctx, def, rec)
		if err != nil {
			return err
		}
		rec.ID = id
		if rec.Preserved && rec.LegacyID != "" {
			if err := tx.RecordLegacyID(ctx, def.Info.Entity, rec.LegacyID, rec.Number); err != nil {
				return err
			}
		}
		o.created[rec.Key] = rec
		return nil

	case ActionUpdate:
		target := rec.ExistingID
		if target == 0 {
			head, ok := o.created[rec.Key]
			if !ok {
				return DuplicateOfFailedRow(rec.Line, rec.DuplicateOf)
			}
			target = head.ID
			rec.Number = head.Number
		}
		if err := tx.Update(ctx, def, target, rec); err != nil {
			return err
		}
		rec.ID = target
		return nil
	}

	return fmt.Errorf("unexpected action %q", rec.Action)
}

// criticalFailure classifies a transaction-level error. Anything that is not
// already critical is promoted: the batch cannot continue either way.
func criticalFailure(op string, err error) *Error {
	e := Classify(err)
	if e.Critical() {
		return e
	}
	return &Error{Kind: KindConnection, Code: CodeFatal, Message: op + " failed", Err: err}
}
