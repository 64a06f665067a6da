// Package mysql provides a MySQL implementation of database.DB backed by
// database/sql and go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/wuyou/docbridge/internal/database"
	"github.com/wuyou/docbridge/internal/errs"
)

var _ database.DB = (*Driver)(nil)

// Driver is a MySQL implementation of database.DB backed by database/sql.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	db *sql.DB
}

// New opens a MySQL connection pool using the provided Config and returns a Driver.
// It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg *database.Config) (*Driver, error) {
	mcfg, err := gomysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid DSN", err)
	}
	// journal timestamps are scanned into time.Time
	mcfg.ParseTime = true

	connector, err := gomysql.NewConnector(mcfg)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid mysql config", err)
	}
	db := sql.OpenDB(connector)

	db.SetMaxOpenConns(int(cfg.MaxConns))
	db.SetMaxIdleConns(int(cfg.MinConns))
	db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)

	d := &Driver{db: db}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	if err := d.Ping(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return d, nil
}

// --- database.DB implementation ---

func (d *Driver) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

func (d *Driver) Close() {
	_ = d.db.Close()
}

func (d *Driver) Dialect() database.Dialect {
	return database.DialectMySQL
}

func (d *Driver) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapError(err, "exec failed")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapError(err, "rows affected unavailable")
	}
	return n, nil
}

func (d *Driver) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "query failed")
	}
	return &mysqlRows{rows: rows}, nil
}

// --- database/sql wrappers ---

type mysqlRows struct{ rows *sql.Rows }

func (r *mysqlRows) Next() bool { return r.rows.Next() }
func (r *mysqlRows) Close()     { _ = r.rows.Close() }

func (r *mysqlRows) Scan(dest ...any) error {
	if err := r.rows.Scan(dest...); err != nil {
		return mapError(err, "scan failed")
	}
	return nil
}

func (r *mysqlRows) Err() error {
	if err := r.rows.Err(); err != nil {
		return mapError(err, "row iteration failed")
	}
	return nil
}

// MySQL error numbers
// Full list: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	errAccessDenied    = 1045
	errUnknownDatabase = 1049
	errBadFieldError   = 1054
	errParseError      = 1064
	errNoSuchTable     = 1146
)

// mapError converts a MySQL driver error into a *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case errAccessDenied:
			return errs.Wrap(errs.ErrKindPermissionDenied, fmt.Sprintf("%s: %s", msg, mysqlErr.Message), err)
		case errUnknownDatabase:
			return errs.Wrap(errs.ErrKindConnectionFailed, fmt.Sprintf("%s: %s", msg, mysqlErr.Message), err)
		case errBadFieldError, errParseError, errNoSuchTable:
			return errs.Wrap(errs.ErrKindQueryFailed, fmt.Sprintf("%s: %s", msg, mysqlErr.Message), err)
		}
		return errs.Wrap(errs.ErrKindQueryFailed, fmt.Sprintf("%s: %s", msg, mysqlErr.Message), err)
	}

	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
