package sqlbuild

import (
	"strings"
	"time"
)

// WhereBuilder accumulates AND-ed conditions and their bind arguments.
type WhereBuilder struct {
	dialect    Dialect
	conditions []string
	args       []any
	argIndex   int
}

// NewWhereBuilder creates an empty builder whose first parameter is 1.
func NewWhereBuilder(d Dialect) *WhereBuilder {
	return &WhereBuilder{dialect: d, argIndex: 1}
}

func (wb *WhereBuilder) next(arg any) string {
	p := wb.dialect.Placeholder(wb.argIndex)
	wb.args = append(wb.args, arg)
	wb.argIndex++
	return p
}

// Add adds "column = value". Empty values are skipped so optional filters can
// be added unconditionally.
func (wb *WhereBuilder) Add(column, value string) {
	if value == "" {
		return
	}
	wb.conditions = append(wb.conditions, column+" = "+wb.next(value))
}

// AddTimestampRange bounds column by start and end; zero times are skipped.
func (wb *WhereBuilder) AddTimestampRange(column string, start, end time.Time) {
	if !start.IsZero() {
		wb.conditions = append(wb.conditions, column+" >= "+wb.next(start.UTC()))
	}
	if !end.IsZero() {
		wb.conditions = append(wb.conditions, column+" <= "+wb.next(end.UTC()))
	}
}

// AddIn adds "expr IN (...)". An empty list matches nothing.
func (wb *WhereBuilder) AddIn(expr string, values []any) {
	if len(values) == 0 {
		wb.conditions = append(wb.conditions, "1 = 0")
		return
	}
	ps := make([]string, len(values))
	for i, v := range values {
		ps[i] = wb.next(v)
	}
	wb.conditions = append(wb.conditions, expr+" IN ("+strings.Join(ps, ", ")+")")
}

// AddTupleIn adds "(e1, e2) IN ((...), (...))". A single expression falls
// back to AddIn.
func (wb *WhereBuilder) AddTupleIn(exprs []string, tuples [][]any) {
	if len(exprs) == 1 {
		values := make([]any, len(tuples))
		for i, t := range tuples {
			values[i] = t[0]
		}
		wb.AddIn(exprs[0], values)
		return
	}
	if len(tuples) == 0 {
		wb.conditions = append(wb.conditions, "1 = 0")
		return
	}

	rows := make([]string, len(tuples))
	for i, t := range tuples {
		ps := make([]string, len(t))
		for j, v := range t {
			ps[j] = wb.next(v)
		}
		rows[i] = "(" + strings.Join(ps, ", ") + ")"
	}
	wb.conditions = append(wb.conditions,
		"("+strings.Join(exprs, ", ")+") IN ("+strings.Join(rows, ", ")+")")
}

// NextArgIndex returns the index the next parameter would take, for callers
// appending LIMIT or OFFSET parameters after the WHERE clause.
func (wb *WhereBuilder) NextArgIndex() int {
	return wb.argIndex
}

// Build returns " WHERE ..." and its arguments, or "" and nil when no
// condition was added.
func (wb *WhereBuilder) Build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}
