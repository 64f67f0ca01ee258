package sqlbuild

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/lims/internal/core"
)

// Insert returns an INSERT of cols that returns the new row's id.
func Insert(d Dialect, table string, cols []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		QuoteIdentifier(table),
		strings.Join(QuoteColumns(cols), ", "),
		strings.Join(d.placeholders(1, len(cols)), ", "))
}

// Update returns an UPDATE setting cols on the row whose id is the last
// parameter.
func Update(d Dialect, table string, cols []string) string {
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = QuoteIdentifier(c) + " = " + d.Placeholder(i+1)
	}
	sets = append(sets, "updated_at = "+d.Now)
	return fmt.Sprintf("UPDATE %s SET %s WHERE id = %s",
		QuoteIdentifier(table), strings.Join(sets, ", "), d.Placeholder(len(cols)+1))
}

// FindByKeys selects id, number and the text of every key column for rows
// whose natural key is one of keys.
func FindByKeys(d Dialect, table, numberCol string, keyCols []string, keys [][]string) (string, []any) {
	exprs := make([]string, len(keyCols))
	for i, c := range keyCols {
		exprs[i] = d.Text(QuoteIdentifier(c))
	}
	tuples := make([][]any, len(keys))
	for i, k := range keys {
		tuples[i] = toAny(k)
	}

	wb := NewWhereBuilder(d)
	wb.AddTupleIn(exprs, tuples)
	where, args := wb.Build()
	return fmt.Sprintf("SELECT id, %s, %s FROM %s%s",
		QuoteIdentifier(numberCol), strings.Join(exprs, ", "), QuoteIdentifier(table), where), args
}

// Numbers selects which of numbers are stored in numberCol.
func Numbers(d Dialect, table, numberCol string, numbers []int64) (string, []any) {
	values := make([]any, len(numbers))
	for i, n := range numbers {
		values[i] = n
	}
	wb := NewWhereBuilder(d)
	wb.AddIn(QuoteIdentifier(numberCol), values)
	where, args := wb.Build()
	return fmt.Sprintf("SELECT %s FROM %s%s",
		QuoteIdentifier(numberCol), QuoteIdentifier(table), where), args
}

// Lookup selects id and the text of column for rows matching values.
func Lookup(d Dialect, table, column string, values []string) (string, []any) {
	expr := d.Text(QuoteIdentifier(column))
	wb := NewWhereBuilder(d)
	wb.AddIn(expr, toAny(values))
	where, args := wb.Build()
	return fmt.Sprintf("SELECT id, %s FROM %s%s", expr, QuoteIdentifier(table), where), args
}

// Export selects every exportable field of def as text, in ExportFields
// order, ordered by number. A reference field is filled from the referenced
// row's key column through a LEFT JOIN. The returned names label each
// selected column.
func Export(d Dialect, def core.TableDefinition) (string, []string) {
	var (
		exprs []string
		names []string
		joins []string
	)
	for _, f := range def.ExportFields() {
		names = append(names, f.Name)
		ref, isRef := def.ReferenceFor(f.Name)
		if !isRef {
			exprs = append(exprs, d.Text(qualified("t", f.Name)))
			continue
		}
		alias := fmt.Sprintf("r%d", len(joins)+1)
		target := core.MustGet(ref.Entity)
		joins = append(joins, fmt.Sprintf(" LEFT JOIN %s %s ON %s.id = %s",
			QuoteIdentifier(target.Info.Table), alias, alias, qualified("t", ref.Column)))
		exprs = append(exprs, d.Text(qualified(alias, ref.KeyColumn)))
	}

	return fmt.Sprintf("SELECT %s FROM %s t%s ORDER BY %s",
		strings.Join(exprs, ", "), QuoteIdentifier(def.Info.Table),
		strings.Join(joins, ""), qualified("t", def.Info.NumberColumn)), names
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// ----------------------------------------------------------------------------
// Counters
// ----------------------------------------------------------------------------

// The counter row of an entity is created on first use, seeded from the
// highest number already stored, so a database populated before counters
// existed never reissues a number.

// greatest is GREATEST in Postgres and the two-argument scalar MAX in SQLite.
func (d Dialect) greatest() string {
	if d.Name == SQLite.Name {
		return "MAX"
	}
	return "GREATEST"
}

func seed(table, numberCol string) string {
	return fmt.Sprintf("(SELECT COALESCE(MAX(%s), 0) FROM %s)",
		QuoteIdentifier(numberCol), QuoteIdentifier(table))
}

// AllocateCounter advances the counter by n and returns the last number
// taken. Arguments: entity, n, n.
func AllocateCounter(d Dialect, table, numberCol string) string {
	return fmt.Sprintf(`INSERT INTO id_counters (entity_type, last_value)
VALUES (%s, %s + %s)
ON CONFLICT (entity_type) DO UPDATE SET last_value = id_counters.last_value + %s
RETURNING last_value`,
		d.Placeholder(1), seed(table, numberCol), d.Placeholder(2), d.Placeholder(3))
}

// PeekCounter returns the next number without changing the counter.
// Arguments: entity.
func PeekCounter(d Dialect, table, numberCol string) string {
	return fmt.Sprintf(`SELECT COALESCE((SELECT last_value FROM id_counters WHERE entity_type = %s), %s) + 1`,
		d.Placeholder(1), seed(table, numberCol))
}

// ReserveCounter raises the counter to at least a value.
// Arguments: entity, value, value.
func ReserveCounter(d Dialect, table, numberCol string) string {
	g := d.greatest()
	return fmt.Sprintf(`INSERT INTO id_counters (entity_type, last_value)
VALUES (%s, %s(%s, %s))
ON CONFLICT (entity_type) DO UPDATE SET last_value = %s(id_counters.last_value, %s)`,
		d.Placeholder(1), g, seed(table, numberCol), d.Placeholder(2), g, d.Placeholder(3))
}

// ----------------------------------------------------------------------------
// Legacy ids and audit
// ----------------------------------------------------------------------------

// InsertLegacyID records the external identifier a preserved number came
// from. Arguments: entity, legacy id, number.
func InsertLegacyID(d Dialect) string {
	return fmt.Sprintf(`INSERT INTO legacy_id_map (entity_type, legacy_id, number) VALUES (%s)
ON CONFLICT (entity_type, legacy_id) DO UPDATE SET number = excluded.number`,
		strings.Join(d.placeholders(1, 3), ", "))
}

// auditColumns is the column order of InsertAudit and ListAudit.
var auditColumns = []string{
	"id", "action", "severity", "entity_type", "import_id", "file_name",
	"ip_address", "user_agent", "rows_affected", "reason", "created_at",
}

// InsertAudit inserts one audit entry; AuditArgs supplies the arguments.
func InsertAudit(d Dialect) string {
	return fmt.Sprintf("INSERT INTO audit_log (%s) VALUES (%s)",
		strings.Join(auditColumns, ", "),
		strings.Join(d.placeholders(1, len(auditColumns)), ", "))
}

// AuditArgs returns e's values in column order.
func AuditArgs(e core.AuditEntry) []any {
	return []any{
		e.ID, string(e.Action), string(e.Severity), string(e.Entity), e.ImportID, e.FileName,
		e.IPAddress, e.UserAgent, e.RowsAffected, e.Reason, e.CreatedAt.UTC(),
	}
}

// ListAudit selects audit entries matching f, newest first.
func ListAudit(d Dialect, f core.AuditFilter) (string, []any) {
	wb := NewWhereBuilder(d)
	wb.Add("action", string(f.Action))
	wb.Add("entity_type", string(f.Entity))
	wb.Add("severity", string(f.Severity))
	wb.AddTimestampRange("created_at", f.Since, f.Until)
	where, args := wb.Build()

	query := fmt.Sprintf("SELECT %s FROM audit_log%s ORDER BY created_at DESC LIMIT %s OFFSET %s",
		strings.Join(auditColumns, ", "), where,
		d.Placeholder(wb.NextArgIndex()), d.Placeholder(wb.NextArgIndex()+1))
	return query, append(args, f.Limit, f.Offset)
}
