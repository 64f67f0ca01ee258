package core

import "context"

// Allocator hands out sequential numbers per entity type. Implementations
// must be safe under concurrent callers in separate processes: two calls
// never return the same number, and a number is never handed out twice even
// if the caller's transaction later rolls back.
type Allocator interface {
	// Allocate consumes and returns the next number.
	Allocate(ctx context.Context, entity EntityType) (int64, error)

	// AllocateN consumes n consecutive numbers and returns the first.
	AllocateN(ctx context.Context, entity EntityType, n int) (int64, error)

	// Peek returns the number the next Allocate would return without
	// consuming it. Informational only: a concurrent caller may take it.
	Peek(ctx context.Context, entity EntityType) (int64, error)

	// Reserve advances the counter so it never returns a number <= atLeast.
	Reserve(ctx context.Context, entity EntityType, atLeast int64) error
}

// Store is the persistence boundary of the import engine. Read methods run
// outside any batch transaction; writes happen through a BatchTx.
type Store interface {
	Allocator

	// FindExisting returns the stored rows whose natural key matches one of
	// keys, indexed by JoinKey of the key values.
	FindExisting(ctx context.Context, def TableDefinition, keyColumns []string, keys [][]string) (map[string]ExistingRow, error)

	// ExistingNumbers returns which of numbers are already used.
	ExistingNumbers(ctx context.Context, def TableDefinition, numbers []int64) (map[int64]bool, error)

	// LookupIDs resolves values of column in def's table to internal ids.
	LookupIDs(ctx context.Context, def TableDefinition, column string, values []string) (map[string]int64, error)

	// Export streams every row of def's table in number order. Each row maps
	// canonical field names to text; references carry the referenced key.
	Export(ctx context.Context, def TableDefinition, fn func(row map[string]string) error) error

	// BeginBatch starts the transaction for one import batch.
	BeginBatch(ctx context.Context) (BatchTx, error)

	Ping(ctx context.Context) error
	Close() error
}

// BatchTx is one batch transaction. Savepoints isolate individual rows: a
// failed statement is rolled back to its savepoint without aborting the
// transaction.
type BatchTx interface {
	Insert(ctx context.Context, def TableDefinition, rec *Record) (int64, error)
	Update(ctx context.Context, def TableDefinition, id int64, rec *Record) error
	RecordLegacyID(ctx context.Context, entity EntityType, legacyID string, number int64) error

	Savepoint(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error
	Release(ctx context.Context, name string) error

	Commit(ctx context.Context) error
	// Rollback must be safe to call after Commit; it is then a no-op.
	Rollback(ctx context.Context) error
}

// UpdateColumns returns the columns an update writes for rec: every mapped,
// non-empty data value and every resolved reference. Empty cells never clear
// stored values. Natural key columns are rewritten with the values they were
// matched on.
func UpdateColumns(def TableDefinition, rec *Record) []string {
	var cols []string
	for _, c := range def.DataColumns() {
		if v, ok := rec.Values[c]; ok && v != "" {
			cols = append(cols, c)
		}
	}
	for _, r := range def.References {
		if _, ok := rec.Refs[r.Column]; ok {
			cols = append(cols, r.Column)
		}
	}
	return cols
}

// InsertColumns returns every column an insert writes, number column first.
func InsertColumns(def TableDefinition) []string {
	cols := []string{def.Info.NumberColumn}
	cols = append(cols, def.DataColumns()...)
	for _, r := range def.References {
		cols = append(cols, r.Column)
	}
	return cols
}
