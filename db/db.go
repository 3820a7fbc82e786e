/*
Package db persists advisories, fixed versions, the KEV catalog and the sync
log. SQLite is the default engine; PostgreSQL is supported through lib/pq.
*/
package db

import (
	"context"
	"database/sql"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // sqlite embedded
	"golang.org/x/xerrors"

	"github.com/hextrackr/advisory-sync/utils"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// timestamps are stored as fixed-width UTC text so lexical order is chronological
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, xerrors.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// DB wraps a *sql.DB with the dialect differences of the supported engines.
type DB struct {
	conn       *sql.DB
	driver     string
	logger     *slog.Logger
	maxElapsed time.Duration
	clock      func() time.Time
}

type Option func(*DB)

func WithLogger(logger *slog.Logger) Option {
	return func(d *DB) {
		d.logger = logger
	}
}

// WithConnectTimeout bounds how long Open keeps retrying the first ping.
func WithConnectTimeout(d time.Duration) Option {
	return func(db *DB) {
		db.maxElapsed = d
	}
}

func WithClock(clock func() time.Time) Option {
	return func(d *DB) {
		d.clock = clock
	}
}

// Open connects, waits for the server to answer and creates the schema.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*DB, error) {
	d := &DB{
		driver:     driver,
		logger:     utils.NopLogger(),
		maxElapsed: 30 * time.Second,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, xerrors.Errorf("unsupported database driver: %s", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, xerrors.Errorf("failed to open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one writer; avoids SQLITE_BUSY between the sync loop and API reads
		conn.SetMaxOpenConns(1)
	}
	d.conn = conn

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = d.maxElapsed
	err = backoff.RetryNotify(func() error {
		return conn.PingContext(ctx)
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		d.logger.Warn("Retrying database connection", slog.String("driver", driver),
			slog.Duration("wait", wait), slog.Any("err", err))
	})
	if err != nil {
		_ = conn.Close()
		return nil, xerrors.Errorf("database is not reachable: %w", err)
	}

	if err = d.migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, xerrors.Errorf("failed to create schema: %w", err)
	}
	return d, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_journal_mode") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_journal_mode=WAL&_busy_timeout=5000"
}

func (d *DB) Close() error {
	return d.conn.Close()
}

// Driver returns the database/sql driver name.
func (d *DB) Driver() string {
	return d.driver
}

// Checkpoint folds the SQLite write-ahead log back into the main database file.
// It is a no-op on PostgreSQL: committed transactions are already durable there,
// and CHECKPOINT would need superuser or the pg_checkpoint role.
func (d *DB) Checkpoint(ctx context.Context) error {
	if d.driver == DriverPostgres {
		return nil
	}
	if _, err := d.conn.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return xerrors.Errorf("checkpoint failed: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// greatest is the two-argument max function of the dialect.
func (d *DB) greatest() string {
	if d.driver == DriverPostgres {
		return "GREATEST"
	}
	return "MAX"
}

func (d *DB) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return d.conn.ExecContext(ctx, d.rebind(query), args...)
}

func (d *DB) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return d.conn.QueryContext(ctx, d.rebind(query), args...)
}

func (d *DB) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return d.conn.QueryRowContext(ctx, d.rebind(query), args...)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
