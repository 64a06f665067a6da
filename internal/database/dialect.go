package database

import "strconv"

// Dialect controls which SQL placeholder style a statement must use.
type Dialect int

const (
	// DialectPostgres uses $1, $2, … placeholders.
	DialectPostgres Dialect = iota

	// DialectMySQL uses ? placeholders.
	DialectMySQL
)

// Placeholder returns the n-th (1-based) bind placeholder.
func (d Dialect) Placeholder(n int) string {
	if d == DialectMySQL {
		return "?"
	}
	return "$" + strconv.Itoa(n)
}

// Placeholders returns the first n placeholders, comma separated.
func (d Dialect) Placeholders(n int) string {
	out := make([]byte, 0, n*4)
	for i := 1; i <= n; i++ {
		if i > 1 {
			out = append(out, ", "...)
		}
		out = append(out, d.Placeholder(i)...)
	}
	return string(out)
}
