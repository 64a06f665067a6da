package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/wuyou/docbridge/internal/database"
	"github.com/wuyou/docbridge/internal/database/mysql"
	"github.com/wuyou/docbridge/internal/database/postgres"
	"github.com/wuyou/docbridge/internal/errs"
)

const (
	tableName    = "callback_journal"
	defaultLimit = 50
	maxLimit     = 500
)

var _ Journal = (*SQL)(nil)

// SQL is a Journal over a database.DB. Statements are written once per
// dialect; only the placeholder style differs between engines.
type SQL struct {
	db      database.DB
	timeout time.Duration
}

// NewSQL wraps db. timeout bounds each statement; 0 leaves deadlines to ctx.
func NewSQL(db database.DB, timeout time.Duration) *SQL {
	return &SQL{db: db, timeout: timeout}
}

// Open connects to the configured engine and prepares the journal table.
func Open(ctx context.Context, cfg *database.Config) (*SQL, error) {
	var (
		db  database.DB
		err error
	)
	switch cfg.Driver {
	case database.DriverPostgres:
		db, err = postgres.New(ctx, cfg)
	case database.DriverMySQL:
		db, err = mysql.New(ctx, cfg)
	default:
		return nil, errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("unsupported journal driver %q", cfg.Driver))
	}
	if err != nil {
		return nil, err
	}

	j := NewSQL(db, cfg.QueryTimeout)
	if err := j.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// EnsureSchema creates the journal table when missing.
func (j *SQL) EnsureSchema(ctx context.Context) error {
	ctx, cancel := j.withTimeout(ctx)
	defer cancel()

	if _, err := j.db.Exec(ctx, createTableSQL(j.db.Dialect())); err != nil {
		return errs.Wrap(errs.KindOf(err), "failed to create journal table", err)
	}
	return nil
}

func (j *SQL) Record(ctx context.Context, e Entry) error {
	ctx, cancel := j.withTimeout(ctx)
	defer cancel()

	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}

	q := fmt.Sprintf(
		"INSERT INTO %s (doc_key, status, action, outcome, error, bytes, received_at) VALUES (%s)",
		tableName, j.db.Dialect().Placeholders(7),
	)
	_, err := j.db.Exec(ctx, q, e.Key, e.Status, e.Action, e.Outcome, e.Error, e.Bytes, e.ReceivedAt.UTC())
	if err != nil {
		return errs.Wrap(errs.KindOf(err), "failed to record callback", err)
	}
	return nil
}

// Recent returns up to limit entries for key, newest first.
func (j *SQL) Recent(ctx context.Context, key string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	ctx, cancel := j.withTimeout(ctx)
	defer cancel()

	d := j.db.Dialect()
	q := fmt.Sprintf(
		"SELECT id, doc_key, status, action, outcome, error, bytes, received_at FROM %s WHERE doc_key = %s ORDER BY received_at DESC, id DESC LIMIT %s",
		tableName, d.Placeholder(1), d.Placeholder(2),
	)
	rows, err := j.db.Query(ctx, q, key, limit)
	if err != nil {
		return nil, errs.Wrap(errs.KindOf(err), "failed to read journal", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Key, &e.Status, &e.Action, &e.Outcome, &e.Error, &e.Bytes, &e.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (j *SQL) Close() {
	j.db.Close()
}

func (j *SQL) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if j.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, j.timeout)
}

func createTableSQL(d database.Dialect) string {
	if d == database.DialectMySQL {
		return `CREATE TABLE IF NOT EXISTS ` + tableName + ` (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	doc_key VARCHAR(255) NOT NULL,
	status INT NOT NULL,
	action VARCHAR(32) NOT NULL,
	outcome VARCHAR(32) NOT NULL,
	error TEXT NOT NULL,
	bytes BIGINT NOT NULL DEFAULT 0,
	received_at DATETIME(3) NOT NULL,
	INDEX idx_callback_journal_key (doc_key, received_at)
)`
	}
	return `CREATE TABLE IF NOT EXISTS ` + tableName + ` (
	id BIGSERIAL PRIMARY KEY,
	doc_key TEXT NOT NULL,
	status INTEGER NOT NULL,
	action TEXT NOT NULL,
	outcome TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	bytes BIGINT NOT NULL DEFAULT 0,
	received_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_callback_journal_key ON ` + tableName + ` (doc_key, received_at DESC)`
}
