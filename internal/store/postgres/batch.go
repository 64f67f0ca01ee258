package postgres

import (
	"context"
	"errors"

	"github.com/JonMunkholm/lims/internal/core"
	"github.com/JonMunkholm/lims/internal/store/sqlbuild"
	"github.com/jackc/pgx/v5"
)

type batchTx struct {
	tx pgx.Tx
}

func (b *batchTx) Insert(ctx context.Context, def core.TableDefinition, rec *core.Record) (int64, error) {
	cols, args := sqlbuild.InsertArgs(def, rec, pgValue)
	var id int64
	if err := b.tx.QueryRow(ctx, sqlbuild.Insert(dialect, def.Info.Table, cols), args...).Scan(&id); err != nil {
		return 0, classify(err)
	}
	return id, nil
}

func (b *batchTx) Update(ctx context.Context, def core.TableDefinition, id int64, rec *core.Record) error {
	cols, args := sqlbuild.UpdateArgs(def, id, rec, pgValue)
	if len(cols) == 0 {
		return nil
	}
	tag, err := b.tx.Exec(ctx, sqlbuild.Update(dialect, def.Info.Table, cols), args...)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return errRowGone
	}
	return nil
}

func (b *batchTx) RecordLegacyID(ctx context.Context, entity core.EntityType, legacyID string, number int64) error {
	if _, err := b.tx.Exec(ctx, sqlbuild.InsertLegacyID(dialect), string(entity), legacyID, number); err != nil {
		return classify(err)
	}
	return nil
}

func (b *batchTx) Savepoint(ctx context.Context, name string) error {
	return b.exec(ctx, "SAVEPOINT "+pgx.Identifier{name}.Sanitize())
}

func (b *batchTx) RollbackTo(ctx context.Context, name string) error {
	return b.exec(ctx, "ROLLBACK TO SAVEPOINT "+pgx.Identifier{name}.Sanitize())
}

func (b *batchTx) Release(ctx context.Context, name string) error {
	return b.exec(ctx, "RELEASE SAVEPOINT "+pgx.Identifier{name}.Sanitize())
}

func (b *batchTx) exec(ctx context.Context, sql string) error {
	if _, err := b.tx.Exec(ctx, sql); err != nil {
		return classify(err)
	}
	return nil
}

func (b *batchTx) Commit(ctx context.Context) error {
	return classify(b.tx.Commit(ctx))
}

func (b *batchTx) Rollback(ctx context.Context) error {
	err := b.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return classify(err)
}

// pgValue converts a canonical cell value to its pgtype.
func pgValue(t core.FieldType, v string) any {
	switch t {
	case core.FieldDate:
		return core.ToPgDate(v)
	case core.FieldNumeric:
		return core.ToPgNumeric(v)
	case core.FieldBool:
		return core.ToPgBool(v)
	case core.FieldInteger:
		return core.ToPgInt8(v)
	default:
		return core.ToPgText(v)
	}
}
