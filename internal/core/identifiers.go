package core

import (
	"context"
	"fmt"
	"sort"
	"strconv"
)

// Identifier modes, used as metric labels.
const (
	ModeGenerate = "generate"
	ModePreserve = "preserve"
)

// IdentifierService wraps an Allocator, tagging failures as critical
// allocation errors and counting what it hands out.
type IdentifierService struct {
	alloc   Allocator
	metrics *Metrics
}

// NewIdentifierService creates the service. metrics may be nil.
func NewIdentifierService(alloc Allocator, metrics *Metrics) *IdentifierService {
	return &IdentifierService{alloc: alloc, metrics: metrics}
}

// Allocate consumes the next number for entity.
func (s *IdentifierService) Allocate(ctx context.Context, entity EntityType) (int64, error) {
	n, err := s.alloc.Allocate(ctx, entity)
	if err != nil {
		return 0, s.fail(entity, err)
	}
	if n <= 0 {
		return 0, s.fail(entity, fmt.Errorf("allocator returned non-positive number %d", n))
	}
	if s.metrics != nil {
		s.metrics.identifiers(entity, ModeGenerate, 1)
	}
	return n, nil
}

// AllocateN consumes n consecutive numbers and returns them in order.
func (s *IdentifierService) AllocateN(ctx context.Context, entity EntityType, n int) ([]int64, error) {
	if n <= 0 {
		return nil, nil
	}
	first, err := s.alloc.AllocateN(ctx, entity, n)
	if err != nil {
		return nil, s.fail(entity, err)
	}
	if first <= 0 {
		return nil, s.fail(entity, fmt.Errorf("allocator returned non-positive number %d", first))
	}

	numbers := make([]int64, n)
	for i := range numbers {
		numbers[i] = first + int64(i)
	}
	if s.metrics != nil {
		s.metrics.identifiers(entity, ModeGenerate, n)
	}
	return numbers, nil
}

// Peek returns the next number without consuming it.
func (s *IdentifierService) Peek(ctx context.Context, entity EntityType) (int64, error) {
	n, err := s.alloc.Peek(ctx, entity)
	if err != nil {
		return 0, s.fail(entity, err)
	}
	return n, nil
}

// Reserve moves the counter past preserved numbers.
func (s *IdentifierService) Reserve(ctx context.Context, entity EntityType, atLeast int64, count int) error {
	if err := s.alloc.Reserve(ctx, entity, atLeast); err != nil {
		return s.fail(entity, err)
	}
	if s.metrics != nil {
		s.metrics.identifiers(entity, ModePreserve, count)
	}
	return nil
}

func (s *IdentifierService) fail(entity EntityType, err error) error {
	if s.metrics != nil {
		s.metrics.allocationError(entity)
	}
	if IsKind(err, KindConnection) {
		// Keep the connection classification; both kinds are critical.
		return err
	}
	return AllocationFailed(entity, err)
}

// PlanPreserved assigns file-supplied numbers to new rows in preserve mode.
// A number repeated within the file or already stored is a row error; rows
// without a number are left for generation. The number column is removed
// from every record's values.
func PlanPreserved(ctx context.Context, store Store, def TableDefinition, records []*Record) ([]*Error, error) {
	col := def.Info.NumberColumn

	var errs []*Error
	firstLine := make(map[int64]int)
	var candidates []*Record

	for _, rec := range records {
		raw, ok := rec.Values[col]
		delete(rec.Values, col)
		if !ok || raw == "" || rec.Action != ActionCreate {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			errs = append(errs, InvalidIdentifier(rec.Line, col, raw))
			continue
		}
		if line, dup := firstLine[n]; dup {
			errs = append(errs, DuplicateIdentifier(rec.Line, col, n, fmt.Sprintf("in this file (row %d)", line)))
			continue
		}
		firstLine[n] = rec.Line
		rec.Number = n
		rec.Preserved = true
		rec.LegacyID = raw
		candidates = append(candidates, rec)
	}

	if len(candidates) == 0 {
		return errs, nil
	}

	numbers := make([]int64, 0, len(candidates))
	for _, rec := range candidates {
		numbers = append(numbers, rec.Number)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	taken := make(map[int64]bool)
	for start := 0; start < len(numbers); start += lookupChunkSize {
		end := min(start+lookupChunkSize, len(numbers))
		found, err := store.ExistingNumbers(ctx, def, numbers[start:end])
		if err != nil {
			return errs, fmt.Errorf("check existing %s numbers: %w", def.Info.Entity, err)
		}
		for n := range found {
			taken[n] = true
		}
	}

	for _, rec := range candidates {
		if taken[rec.Number] {
			errs = append(errs, DuplicateIdentifier(rec.Line, col, rec.Number, "in the database"))
			rec.Number = 0
			rec.Preserved = false
		}
	}
	return errs, nil
}
