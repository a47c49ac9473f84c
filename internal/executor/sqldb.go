package executor

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/canonica-labs/dealquery/internal/compiler"
	"github.com/canonica-labs/dealquery/internal/errors"
)

// Config selects and tunes the data-store connection.
type Config struct {
	// Driver is one of snowflake, postgres, duckdb, sqlite, trino, bigquery.
	Driver string

	// DSN is passed to the driver. For snowflake and trino it may be left
	// empty and built from the structured settings below.
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// QueryTimeout bounds every statement. Zero means the caller's
	// context alone governs.
	QueryTimeout time.Duration

	Retry RetryConfig

	Snowflake SnowflakeConfig
	Trino     TrinoConfig
	BigQuery  BigQueryConfig
}

// DefaultConfig returns an in-memory SQLite configuration.
func DefaultConfig() Config {
	return Config{
		Driver:          "sqlite",
		DSN:             ":memory:",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		QueryTimeout:    30 * time.Second,
		Retry:           DefaultRetryConfig(),
	}
}

// DB is an Adapter over a database/sql connection pool.
type DB struct {
	mu      sync.RWMutex
	db      *sql.DB
	eng     engine
	timeout time.Duration
	retry   RetryConfig
	closed  bool
}

// Open creates the adapter for cfg.Driver. The pool is opened lazily by
// database/sql; use Ping to verify connectivity.
func Open(cfg Config) (*DB, error) {
	eng, ok := engines[strings.ToLower(cfg.Driver)]
	if !ok {
		return nil, fmt.Errorf("executor: unknown driver %q (supported: %s)", cfg.Driver, strings.Join(Drivers(), ", "))
	}
	dsn, err := eng.dsn(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s adapter: %w", eng.label, err)
	}

	db, err := sql.Open(eng.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s adapter: failed to open connection: %w", eng.label, err)
	}

	if eng.singleConn != nil && eng.singleConn(dsn) {
		// An in-memory database lives and dies with its only connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	return &DB{
		db:      db,
		eng:     eng,
		timeout: cfg.QueryTimeout,
		retry:   cfg.Retry,
	}, nil
}

// Name returns the engine name.
func (a *DB) Name() string {
	return a.eng.name
}

// Dialect returns the engine's SQL dialect.
func (a *DB) Dialect() compiler.Dialect {
	return a.eng.dialect
}

// Handle returns the underlying pool.
func (a *DB) Handle() *sql.DB {
	return a.db
}

// Query runs stmt under the configured timeout. Every failure is an
// ErrExecution whose message carries neither SQL text nor values.
func (a *DB) Query(ctx context.Context, stmt *compiler.Statement) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewExecution(a.eng.name, fmt.Errorf("%s adapter: context error: %w", a.eng.label, err))
	}
	if stmt == nil || stmt.SQL == "" {
		return nil, errors.NewExecution(a.eng.name, fmt.Errorf("%s adapter: statement is empty", a.eng.label))
	}

	a.mu.RLock()
	if a.closed || a.db == nil {
		a.mu.RUnlock()
		return nil, errors.NewExecution(a.eng.name, fmt.Errorf("%s adapter: connection is closed", a.eng.label))
	}
	db := a.db
	a.mu.RUnlock()

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	var res *Result
	rr := ExecuteWithRetry(ctx, a.retry, func() error {
		var err error
		res, err = a.run(ctx, db, stmt)
		return err
	})
	if !rr.Success {
		cause := rr.LastError
		if ctxErr := ctx.Err(); ctxErr != nil && !stderrors.Is(cause, ctxErr) {
			cause = fmt.Errorf("%w (%w)", cause, ctxErr)
		}
		return nil, errors.NewExecution(a.eng.name, cause)
	}
	return res, nil
}

func (a *DB) run(ctx context.Context, db *sql.DB, stmt *compiler.Statement) (*Result, error) {
	rows, err := db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("%s adapter: query execution failed: %w", a.eng.label, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%s adapter: failed to get columns: %w", a.eng.label, err)
	}
	keys := outputKeys(stmt, columns)

	out := make([]Row, 0)
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s adapter: context error during row iteration: %w", a.eng.label, err)
		}

		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("%s adapter: failed to scan row: %w", a.eng.label, err)
		}

		row := make(Row, len(columns))
		for i, v := range values {
			row[i] = Cell{Key: keys[i], Value: normalize(v)}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s adapter: error during row iteration: %w", a.eng.label, err)
	}

	return &Result{Columns: keys, Rows: out}, nil
}

// Ping checks that the data store is reachable.
func (a *DB) Ping(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed || a.db == nil {
		return fmt.Errorf("%s adapter: connection is closed", a.eng.label)
	}
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s adapter: ping failed: %w", a.eng.label, err)
	}
	return nil
}

// Close releases the pool. Close is idempotent.
func (a *DB) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// outputKeys prefers the compiled aliases; drivers may fold the case of
// returned column names.
func outputKeys(stmt *compiler.Statement, columns []string) []string {
	if len(stmt.Columns) != len(columns) {
		return columns
	}
	keys := make([]string, len(columns))
	for i, c := range stmt.Columns {
		keys[i] = c.Alias
	}
	return keys
}

func normalize(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
