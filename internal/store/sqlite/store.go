// Package sqlite implements the import engine's store on an embedded SQLite
// database through the pure Go modernc driver. It backs single-node
// deployments, the limsctl command and the integration tests.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/JonMunkholm/lims/internal/core"
	"github.com/JonMunkholm/lims/internal/store/sqlbuild"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

//go:embed schema.sql
var schema string

var dialect = sqlbuild.SQLite

// timeLayout keeps stored timestamps fixed width so text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is a core.Store on a SQLite database file.
type Store struct {
	db   *sql.DB
	path string
}

var _ core.Store = (*Store)(nil)

// Open opens or creates the database at path and applies the schema.
//
// SQLite has a single writer, so the pool holds one connection: batches,
// counter updates and reads queue on it instead of failing with
// SQLITE_BUSY. Transactions begin IMMEDIATE for the same reason.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "lims.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", classify(err))
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return classify(s.db.PingContext(ctx))
}

func (s *Store) Close() error {
	return s.db.Close()
}

func definition(entity core.EntityType) (core.TableDefinition, error) {
	def, ok := core.Get(entity)
	if !ok {
		return core.TableDefinition{}, fmt.Errorf("unknown entity type %q", entity)
	}
	return def, nil
}

// bind converts arguments the driver would otherwise format on its own.
func bind(args []any) []any {
	for i, a := range args {
		if t, ok := a.(time.Time); ok {
			args[i] = t.UTC().Format(timeLayout)
		}
	}
	return args
}

// ----------------------------------------------------------------------------
// Allocator
// ----------------------------------------------------------------------------

func (s *Store) Allocate(ctx context.Context, entity core.EntityType) (int64, error) {
	return s.AllocateN(ctx, entity, 1)
}

// AllocateN takes n numbers in one upsert of the entity's counter row, which
// commits on its own.
func (s *Store) AllocateN(ctx context.Context, entity core.EntityType, n int) (int64, error) {
	def, err := definition(entity)
	if err != nil {
		return 0, err
	}
	var last int64
	query := sqlbuild.AllocateCounter(dialect, def.Info.Table, def.Info.NumberColumn)
	if err := s.db.QueryRowContext(ctx, query, string(entity), int64(n), int64(n)).Scan(&last); err != nil {
		return 0, classify(err)
	}
	return last - int64(n) + 1, nil
}

func (s *Store) Peek(ctx context.Context, entity core.EntityType) (int64, error) {
	def, err := definition(entity)
	if err != nil {
		return 0, err
	}
	var next int64
	query := sqlbuild.PeekCounter(dialect, def.Info.Table, def.Info.NumberColumn)
	if err := s.db.QueryRowContext(ctx, query, string(entity)).Scan(&next); err != nil {
		return 0, classify(err)
	}
	return next, nil
}

func (s *Store) Reserve(ctx context.Context, entity core.EntityType, atLeast int64) error {
	def, err := definition(entity)
	if err != nil {
		return err
	}
	query := sqlbuild.ReserveCounter(dialect, def.Info.Table, def.Info.NumberColumn)
	if _, err := s.db.ExecContext(ctx, query, string(entity), atLeast, atLeast); err != nil {
		return classify(err)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Reads
// ----------------------------------------------------------------------------

func (s *Store) FindExisting(ctx context.Context, def core.TableDefinition, keyColumns []string, keys [][]string) (map[string]core.ExistingRow, error) {
	found := make(map[string]core.ExistingRow)
	if len(keys) == 0 {
		return found, nil
	}

	query, args := sqlbuild.FindByKeys(dialect, def.Info.Table, def.Info.NumberColumn, keyColumns, keys)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var row core.ExistingRow
		parts := make([]string, len(keyColumns))
		dest := []any{&row.ID, &row.Number}
		for i := range parts {
			dest = append(dest, &parts[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, classify(err)
		}
		key := core.JoinKey(parts)
		if prev, seen := found[key]; seen {
			prev.Matches++
			found[key] = prev
			continue
		}
		row.Matches = 1
		found[key] = row
	}
	return found, classify(rows.Err())
}

func (s *Store) ExistingNumbers(ctx context.Context, def core.TableDefinition, numbers []int64) (map[int64]bool, error) {
	taken := make(map[int64]bool)
	if len(numbers) == 0 {
		return taken, nil
	}

	query, args := sqlbuild.Numbers(dialect, def.Info.Table, def.Info.NumberColumn, numbers)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, classify(err)
		}
		taken[n] = true
	}
	return taken, classify(rows.Err())
}

func (s *Store) LookupIDs(ctx context.Context, def core.TableDefinition, column string, values []string) (map[string]int64, error) {
	ids := make(map[string]int64)
	if len(values) == 0 {
		return ids, nil
	}

	query, args := sqlbuild.Lookup(dialect, def.Info.Table, column, values)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id  int64
			key string
		)
		if err := rows.Scan(&id, &key); err != nil {
			return nil, classify(err)
		}
		ids[key] = id
	}
	return ids, classify(rows.Err())
}

func (s *Store) Export(ctx context.Context, def core.TableDefinition, fn func(row map[string]string) error) error {
	query, names := sqlbuild.Export(dialect, def)

	// Collect first: fn may run for a long time and the pool has a single
	// connection.
	var out []map[string]string
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return classify(err)
	}
	values := make([]string, len(names))
	dest := make([]any, len(names))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			_ = rows.Close()
			return classify(err)
		}
		row := make(map[string]string, len(names))
		for i, name := range names {
			row[name] = exportValue(def, name, values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return classify(err)
	}
	_ = rows.Close()

	for _, row := range out {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

// exportValue renders stored 0/1 booleans the way the Postgres store does.
func exportValue(def core.TableDefinition, field, v string) string {
	f, ok := def.Field(field)
	if !ok || f.Type != core.FieldBool || v == "" {
		return v
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return v
	}
	return strconv.FormatBool(b)
}

// ----------------------------------------------------------------------------
// Batches
// ----------------------------------------------------------------------------

func (s *Store) BeginBatch(ctx context.Context) (core.BatchTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	return &batchTx{tx: tx}, nil
}
