package database

import "context"

// DB is the central contract for SQL access in docbridge.
// Callers talk only to this interface; they never import the postgres or
// mysql packages directly, except to construct a driver.
type DB interface {
	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the connection pool.
	Close()

	// Dialect tells callers which placeholder style statements must use.
	Dialect() Dialect

	// Exec runs a statement that returns no rows and reports rows affected.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)

	// Query executes a SQL statement that returns multiple rows.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
}

// Rows is an abstraction over a database result set.
// Callers must always call Close() when done, even on error.
type Rows interface {
	// Next advances to the next row.
	// Returns false when no more rows exist or on error.
	Next() bool

	// Scan copies the current row's columns into the provided destinations.
	Scan(dest ...any) error

	// Close releases resources held by the result set.
	Close()

	// Err returns any error encountered during iteration.
	Err() error
}
