package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/JonMunkholm/lims/internal/core"
	"github.com/JonMunkholm/lims/internal/store/sqlbuild"
)

type batchTx struct {
	tx *sql.Tx
}

func (b *batchTx) Insert(ctx context.Context, def core.TableDefinition, rec *core.Record) (int64, error) {
	cols, args := sqlbuild.InsertArgs(def, rec, sqliteValue)
	var id int64
	if err := b.tx.QueryRowContext(ctx, sqlbuild.Insert(dialect, def.Info.Table, cols), args...).Scan(&id); err != nil {
		return 0, classify(err)
	}
	return id, nil
}

func (b *batchTx) Update(ctx context.Context, def core.TableDefinition, id int64, rec *core.Record) error {
	cols, args := sqlbuild.UpdateArgs(def, id, rec, sqliteValue)
	if len(cols) == 0 {
		return nil
	}
	res, err := b.tx.ExecContext(ctx, sqlbuild.Update(dialect, def.Info.Table, cols), args...)
	if err != nil {
		return classify(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errRowGone
	}
	return nil
}

func (b *batchTx) RecordLegacyID(ctx context.Context, entity core.EntityType, legacyID string, number int64) error {
	if _, err := b.tx.ExecContext(ctx, sqlbuild.InsertLegacyID(dialect), string(entity), legacyID, number); err != nil {
		return classify(err)
	}
	return nil
}

func (b *batchTx) Savepoint(ctx context.Context, name string) error {
	return b.exec(ctx, "SAVEPOINT "+sqlbuild.QuoteIdentifier(name))
}

func (b *batchTx) RollbackTo(ctx context.Context, name string) error {
	return b.exec(ctx, "ROLLBACK TO SAVEPOINT "+sqlbuild.QuoteIdentifier(name))
}

func (b *batchTx) Release(ctx context.Context, name string) error {
	return b.exec(ctx, "RELEASE SAVEPOINT "+sqlbuild.QuoteIdentifier(name))
}

func (b *batchTx) exec(ctx context.Context, stmt string) error {
	if _, err := b.tx.ExecContext(ctx, stmt); err != nil {
		return classify(err)
	}
	return nil
}

func (b *batchTx) Commit(context.Context) error {
	return classify(b.tx.Commit())
}

func (b *batchTx) Rollback(context.Context) error {
	err := b.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return classify(err)
}

// sqliteValue stores dates and decimals as their canonical text and
// booleans as 0/1.
func sqliteValue(t core.FieldType, v string) any {
	switch t {
	case core.FieldBool:
		if b, _ := core.ParseBool(v); b {
			return int64(1)
		}
		return int64(0)
	case core.FieldInteger:
		if n, ok := core.ParseInteger(v); ok {
			return n
		}
		return v
	case core.FieldNumeric:
		if clean, ok := core.NormalizeNumeric(v); ok {
			return clean
		}
		return v
	default:
		return v
	}
}
