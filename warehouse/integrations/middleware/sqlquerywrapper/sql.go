package sqlquerywrapper

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/datacampus/dcx/warehouse/logfield"
)

type Opt func(*DB)

type logger interface {
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Infow(string, ...any) {}
func (nopLogger) Warnw(string, ...any) {}

type DB struct {
	*sql.DB

	since              func(time.Time) time.Duration
	logger             logger
	stats              stats.Stats
	keysAndValues      []any
	slowQueryThreshold time.Duration
	queryTimeout       time.Duration
	secretsRegex       map[string]string
}

type Tx struct {
	*sql.Tx
	db        *DB
	startedAt time.Time
}

func WithLogger(logger logger) Opt {
	return func(s *DB) {
		s.logger = logger
	}
}

func WithKeyAndValues(keyAndValues ...any) Opt {
	return func(s *DB) {
		s.keysAndValues = keyAndValues
	}
}

func WithSlowQueryThreshold(slowQueryThreshold time.Duration) Opt {
	return func(s *DB) {
		s.slowQueryThreshold = slowQueryThreshold
	}
}

// WithQueryTimeout bounds ExecContext on the DB and its transactions. Calls that
// return rows keep the caller's context, as their rows are read after the call
// returns. Zero disables the bound.
func WithQueryTimeout(timeout time.Duration) Opt {
	return func(s *DB) {
		s.queryTimeout = timeout
	}
}

// WithSecretsRegex masks matches of each key with its value before a query is logged.
func WithSecretsRegex(secretsRegex map[string]string) Opt {
	return func(s *DB) {
		s.secretsRegex = secretsRegex
	}
}

// WithStats records the duration of every query in the dcx_query_duration timer.
func WithStats(stats stats.Stats) Opt {
	return func(s *DB) {
		s.stats = stats
	}
}

func New(db *sql.DB, opts ...Opt) *DB {
	s := &DB{
		DB:                 db,
		since:              time.Since,
		logger:             nopLogger{},
		stats:              stats.NOP,
		slowQueryThreshold: 300 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (db *DB) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if db.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, db.queryTimeout)
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	startedAt := time.Now()
	result, err := db.DB.ExecContext(ctx, query, args...)
	db.logQuery(query, db.since(startedAt))
	return result, err
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	startedAt := time.Now()
	rows, err := db.DB.QueryContext(ctx, query, args...)
	db.logQuery(query, db.since(startedAt))
	return rows, err
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	startedAt := time.Now()
	row := db.DB.QueryRowContext(ctx, query, args...)
	db.logQuery(query, db.since(startedAt))
	return row
}

func (db *DB) logQuery(query string, elapsed time.Duration) {
	db.stats.NewTaggedStat("dcx_query_duration", stats.TimerType, db.statTags()).SendTiming(elapsed)

	if elapsed < db.slowQueryThreshold {
		return
	}

	sanitizedQuery, err := replaceMultiRegex(query, db.secretsRegex)
	if err != nil {
		sanitizedQuery = "<unable to sanitize query>"
	}

	keysAndValues := []any{
		logfield.Query, sanitizedQuery,
		logfield.QueryExecutionTime, elapsed,
	}
	keysAndValues = append(keysAndValues, db.keysAndValues...)

	db.logger.Infow("executing query", keysAndValues...)
}

// statTags turns string key/value pairs into metric tags.
func (db *DB) statTags() stats.Tags {
	tags := stats.Tags{}
	for i := 0; i+1 < len(db.keysAndValues); i += 2 {
		k, ok := db.keysAndValues[i].(string)
		if !ok {
			continue
		}
		tags[k] = fmt.Sprint(db.keysAndValues[i+1])
	}
	return tags
}

func replaceMultiRegex(str string, expList map[string]string) (string, error) {
	for expr, substitute := range expList {
		exp, err := regexp.Compile(expr)
		if err != nil {
			return "", err
		}
		str = exp.ReplaceAllString(str, substitute)
	}
	return str, nil
}

func (db *DB) Begin() (*Tx, error) {
	return db.BeginTx(context.Background(), nil)
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx, db: db, startedAt: time.Now()}, nil
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, cancel := tx.db.withTimeout(ctx)
	defer cancel()

	startedAt := time.Now()
	result, err := tx.Tx.ExecContext(ctx, query, args...)
	tx.db.logQuery(query, tx.db.since(startedAt))
	return result, err
}

func (tx *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	startedAt := time.Now()
	rows, err := tx.Tx.QueryContext(ctx, query, args...)
	tx.db.logQuery(query, tx.db.since(startedAt))
	return rows, err
}

func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	startedAt := time.Now()
	row := tx.Tx.QueryRowContext(ctx, query, args...)
	tx.db.logQuery(query, tx.db.since(startedAt))
	return row
}

func (tx *Tx) Commit() error {
	err := tx.Tx.Commit()
	if tx.db.since(tx.startedAt) >= tx.db.slowQueryThreshold {
		tx.db.logger.Warnw("commit threshold exceeded", tx.db.keysAndValues...)
	}
	return err
}

func (tx *Tx) Rollback() error {
	err := tx.Tx.Rollback()
	if tx.db.since(tx.startedAt) >= tx.db.slowQueryThreshold {
		tx.db.logger.Warnw("rollback threshold exceeded", tx.db.keysAndValues...)
	}
	return err
}
