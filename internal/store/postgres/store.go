// Package postgres implements the import engine's store on PostgreSQL
// through a pgx connection pool.
package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/JonMunkholm/lims/internal/config"
	"github.com/JonMunkholm/lims/internal/core"
	"github.com/JonMunkholm/lims/internal/store/sqlbuild"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

var dialect = sqlbuild.Postgres

// Store is a core.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ core.Store = (*Store)(nil)

// Open connects a pool configured from cfg and verifies it with a ping.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", classify(err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", classify(err))
	}
	return New(pool), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", classify(err))
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return classify(s.pool.Ping(ctx))
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func definition(entity core.EntityType) (core.TableDefinition, error) {
	def, ok := core.Get(entity)
	if !ok {
		return core.TableDefinition{}, fmt.Errorf("unknown entity type %q", entity)
	}
	return def, nil
}

// ----------------------------------------------------------------------------
// Allocator
// ----------------------------------------------------------------------------

func (s *Store) Allocate(ctx context.Context, entity core.EntityType) (int64, error) {
	return s.AllocateN(ctx, entity, 1)
}

// AllocateN takes n numbers in one atomic upsert of the entity's counter row.
// The statement commits on its own, so numbers stay consumed when the
// caller's batch later rolls back.
func (s *Store) AllocateN(ctx context.Context, entity core.EntityType, n int) (int64, error) {
	def, err := definition(entity)
	if err != nil {
		return 0, err
	}
	var last int64
	query := sqlbuild.AllocateCounter(dialect, def.Info.Table, def.Info.NumberColumn)
	if err := s.pool.QueryRow(ctx, query, string(entity), int64(n), int64(n)).Scan(&last); err != nil {
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
	if err := s.pool.QueryRow(ctx, query, string(entity)).Scan(&next); err != nil {
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
	if _, err := s.pool.Exec(ctx, query, string(entity), atLeast, atLeast); err != nil {
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
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

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
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

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
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

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
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return classify(err)
	}
	defer rows.Close()

	values := make([]string, len(names))
	dest := make([]any, len(names))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return classify(err)
		}
		row := make(map[string]string, len(names))
		for i, name := range names {
			row[name] = values[i]
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return classify(rows.Err())
}

// ----------------------------------------------------------------------------
// Batches
// ----------------------------------------------------------------------------

// BeginBatch opens a read-committed transaction. Natural key races with
// concurrent imports surface as unique violations on the row that loses.
func (s *Store) BeginBatch(ctx context.Context) (core.BatchTx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, classify(err)
	}
	return &batchTx{tx: tx}, nil
}
