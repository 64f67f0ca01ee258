// Package sqlbuild builds the SQL both stores run for an entity definition.
//
// Every identifier is quoted. Natural key comparisons are made on the text
// form of each column, which is how the import engine holds key values, so a
// date or integer column matches the canonical string the validator produced.
package sqlbuild

import (
	"strconv"
	"strings"
)

// Dialect captures the handful of places Postgres and SQLite SQL differ.
type Dialect struct {
	Name string

	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string

	// Text renders a column expression as text for key comparison.
	Text func(expr string) string

	// Now is the current timestamp expression.
	Now string
}

// Postgres uses numbered parameters and ::text casts.
var Postgres = Dialect{
	Name:        "postgres",
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	Text:        func(expr string) string { return "COALESCE(" + expr + "::text, '')" },
	Now:         "now()",
}

// SQLite binds parameters in order.
var SQLite = Dialect{
	Name:        "sqlite",
	Placeholder: func(int) string { return "?" },
	Text:        func(expr string) string { return "COALESCE(CAST(" + expr + " AS TEXT), '')" },
	Now:         "CURRENT_TIMESTAMP",
}

// QuoteIdentifier safely quotes a SQL identifier to prevent injection.
// Double quotes within the name are escaped by doubling them.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteColumns quotes each column name.
func QuoteColumns(cols []string) []string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = QuoteIdentifier(c)
	}
	return quoted
}

// qualified renders alias."column".
func qualified(alias, col string) string {
	return alias + "." + QuoteIdentifier(col)
}

// placeholders renders count parameters starting at index start.
func (d Dialect) placeholders(start, count int) []string {
	out := make([]string, count)
	for i := range out {
		out[i] = d.Placeholder(start + i)
	}
	return out
}
