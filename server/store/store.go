// Package store owns the embedded DuckDB database shared by the metadata
// catalog, the materialized file tables, the result cache and the search
// history.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gear6io/gharp/pkg/errors"
	"github.com/gear6io/gharp/server/config"
	"github.com/marcboeker/go-duckdb/v2"
	"github.com/rs/zerolog"
)

// ComponentType is the store's component name in logs and status output
const ComponentType = "store"

// Store is an explicitly owned handle on the analytical database. Every
// component that persists state receives the same *Store.
type Store struct {
	db     *sql.DB
	path   string
	retry  RetryConfig
	logger zerolog.Logger
	closed atomic.Bool
}

// Column describes one column of a table in the store
type Column struct {
	Name string
	Type string
}

// ResultSet is a fully materialized query result
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Len returns the number of rows
func (r *ResultSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// NewStore opens (or creates) the database described by cfg, applies the
// engine settings on every pooled connection and migrates the schema.
func NewStore(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Store, error) {
	logger = logger.With().Str("component", ComponentType).Logger()

	dsn := cfg.Path
	if dsn == ":memory:" {
		dsn = ""
	}
	if dsn != "" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, errors.New(ErrStoreOpenFailed, "failed to create database directory", err).AddContext("path", dsn)
		}
	}
	if cfg.TempDirectory != "" {
		if err := os.MkdirAll(cfg.TempDirectory, 0755); err != nil {
			return nil, errors.New(ErrStoreOpenFailed, "failed to create temp directory", err).AddContext("path", cfg.TempDirectory)
		}
	}

	settings := engineSettings(cfg)
	connector, err := duckdb.NewConnector(dsn, func(execer driver.ExecerContext) error {
		for _, stmt := range settings {
			if _, err := execer.ExecContext(context.Background(), stmt, nil); err != nil {
				return errors.New(ErrStoreConfigureFailed, "failed to apply engine setting", err).AddContext("statement", stmt)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.New(ErrStoreOpenFailed, "failed to open DuckDB", err).AddContext("path", dsn)
	}

	db := sql.OpenDB(connector)
	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
		db.SetMaxIdleConns(cfg.MaxConnections)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.New(ErrStorePingFailed, "failed to ping DuckDB", err).AddContext("path", dsn)
	}

	s := &Store{
		db:     db,
		path:   dsn,
		retry:  RetryConfigFrom(cfg.Retry),
		logger: logger,
	}

	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().
		Str("path", displayPath(dsn)).
		Int("threads", cfg.Threads).
		Str("memory_limit", cfg.MemoryLimit).
		Msg("Store opened")

	return s, nil
}

// NewMemoryStore opens a private in-memory database with default settings
func NewMemoryStore(ctx context.Context, logger zerolog.Logger) (*Store, error) {
	cfg := config.LoadDefaultConfig().Database
	cfg.Path = ""
	cfg.TempDirectory = ""
	cfg.MemoryLimit = "1GB"
	cfg.Threads = 2
	return NewStore(ctx, cfg, logger)
}

// NewStoreFromDB wraps an already opened database without migrating it
func NewStoreFromDB(db *sql.DB, retry RetryConfig, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		retry:  retry,
		logger: logger.With().Str("component", ComponentType).Logger(),
	}
}

func engineSettings(cfg config.DatabaseConfig) []string {
	var stmts []string
	if cfg.MemoryLimit != "" {
		stmts = append(stmts, "SET memory_limit = "+QuoteLiteral(cfg.MemoryLimit))
	}
	if cfg.Threads > 0 {
		stmts = append(stmts, fmt.Sprintf("SET threads = %d", cfg.Threads))
	}
	if cfg.TempDirectory != "" {
		stmts = append(stmts, "SET temp_directory = "+QuoteLiteral(cfg.TempDirectory))
	}
	stmts = append(stmts, fmt.Sprintf("SET preserve_insertion_order = %t", cfg.PreserveInsertionOrder))
	stmts = append(stmts, "SET enable_progress_bar = false")
	return stmts
}

func displayPath(dsn string) string {
	if dsn == "" {
		return ":memory:"
	}
	return dsn
}

// GetType returns the component type
func (s *Store) GetType() string {
	return ComponentType
}

// Path returns the database file path, empty for in-memory stores
func (s *Store) Path() string {
	return s.path
}

// DB exposes the underlying pool for callers that need raw access
func (s *Store) DB() *sql.DB {
	return s.db
}

// Retry returns the retry policy in effect
func (s *Store) Retry() RetryConfig {
	return s.retry
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return errors.New(ErrStoreClosed, "store is closed", nil)
	}
	return nil
}

// Exec runs a statement, retrying transient failures
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var res sql.Result
	err := RetryWithBackoff(ctx, s.retry, func(ctx context.Context) error {
		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		return err
	}, s.logger)
	if err != nil {
		return nil, errors.New(ErrStoreExecFailed, "statement failed", err).AddContext("query", abbreviate(query))
	}
	return res, nil
}

// Query opens a cursor, retrying transient failures to open it. The caller
// closes the rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var rows *sql.Rows
	err := RetryWithBackoff(ctx, s.retry, func(ctx context.Context) error {
		var err error
		rows, err = s.db.QueryContext(ctx, query, args...)
		return err
	}, s.logger)
	if err != nil {
		return nil, errors.New(ErrStoreQueryFailed, "query failed", err).AddContext("query", abbreviate(query))
	}
	return rows, nil
}

// ScanRow runs a single-row query into dest. A missing row surfaces as an
// error wrapping sql.ErrNoRows.
func (s *Store) ScanRow(ctx context.Context, query string, args []any, dest ...any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	err := RetryWithBackoff(ctx, s.retry, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, query, args...).Scan(dest...)
	}, s.logger)
	if err != nil {
		return errors.New(ErrStoreQueryFailed, "row query failed", err).AddContext("query", abbreviate(query))
	}
	return nil
}

// QueryAll runs a query and materializes every row
func (s *Store) QueryAll(ctx context.Context, query string, args ...any) (*ResultSet, error) {
	rows, err := s.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return ReadRows(rows)
}

// ReadRows drains rows into a ResultSet and normalizes driver types
func ReadRows(rows *sql.Rows) (*ResultSet, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.New(ErrStoreScanFailed, "failed to read result columns", err)
	}

	result := &ResultSet{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.New(ErrStoreScanFailed, "failed to scan row", err)
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(ErrStoreScanFailed, "row iteration failed", err)
	}
	return result, nil
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case interface{ Float64() float64 }:
		return val.Float64()
	default:
		return v
	}
}

// WithTx runs fn inside a transaction. Transient failures roll back and
// replay the whole function.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	err := RetryWithBackoff(ctx, s.retry, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Warn().Err(rbErr).Msg("Rollback failed")
			}
			return err
		}
		return tx.Commit()
	}, s.logger)
	if err != nil {
		return errors.New(ErrStoreTransactionFailed, "transaction failed", err)
	}
	return nil
}

// TableExists checks the main schema for a base table
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.ScanRow(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = 'main' AND table_name = ?`,
		[]any{name}, &n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TableColumns lists the columns of a table in declaration order
func (s *Store) TableColumns(ctx context.Context, name string) ([]Column, error) {
	rows, err := s.Query(ctx,
		`SELECT column_name, data_type FROM information_schema.columns
		 WHERE table_schema = 'main' AND table_name = ?
		 ORDER BY ordinal_position`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, errors.New(ErrStoreScanFailed, "failed to scan column", err).AddContext("table", name)
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(ErrStoreScanFailed, "column iteration failed", err).AddContext("table", name)
	}
	if len(columns) == 0 {
		return nil, errors.New(ErrStoreTableNotFound, "table not found", nil).AddContext("table", name)
	}
	return columns, nil
}

// DropTable drops a table if it exists
func (s *Store) DropTable(ctx context.Context, name string) error {
	_, err := s.Exec(ctx, "DROP TABLE IF EXISTS "+QuoteIdent(name))
	return err
}

// Close closes the pool. Calling it twice is a no-op.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return errors.New(ErrStoreCloseFailed, "failed to close store", err)
	}
	s.logger.Info().Msg("Store closed")
	return nil
}

// Shutdown implements the component lifecycle
func (s *Store) Shutdown(ctx context.Context) error {
	return s.Close()
}

// QuoteIdent quotes a SQL identifier
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes a SQL string literal. Only used for values DuckDB does
// not accept as bound parameters (table function paths, SET values).
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func abbreviate(query string) string {
	q := strings.Join(strings.Fields(query), " ")
	if len(q) > 200 {
		return q[:200] + "..."
	}
	return q
}
