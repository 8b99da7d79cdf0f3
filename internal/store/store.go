// Package store provides durable persistence for apex: tasks, logs,
// artifacts, gates, templates, checkpoints, idle tasks, and the event log.
//
// The store is the single writer of persistent state. Every other component
// observes rows through the read APIs and submits changes through the
// mutating operations here; mutations are serialised per process so writes
// for one task id are linearisable.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apexhq/apex/internal/store/driver"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// DBFileName is the database file under the project's .apex directory.
const DBFileName = "apex.db"

// timeFormat keeps stored timestamps fixed-width UTC so lexicographic
// comparison in SQL matches chronological order.
const timeFormat = "2006-01-02 15:04:05.000000000"

// Store wraps a database connection with the apex schema applied.
type Store struct {
	drv  driver.Driver
	path string

	// mu serialises read-modify-write operations (UpdateTask,
	// PromoteIdleTask) so patches never interleave.
	mu sync.Mutex
}

// Open opens (and migrates) the SQLite store at <projectPath>/.apex/apex.db.
func Open(projectPath string) (*Store, error) {
	return OpenPath(filepath.Join(projectPath, ".apex", DBFileName))
}

// OpenPath opens a SQLite store at an explicit file path, creating the
// parent directory when needed.
func OpenPath(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	return OpenWithDialect(path, driver.DialectSQLite)
}

// OpenInMemory opens an in-memory SQLite store. Each call creates a new
// isolated database; intended for tests.
func OpenInMemory() (*Store, error) {
	return OpenWithDialect(":memory:", driver.DialectSQLite)
}

// OpenWithDialect opens a store with a specific dialect and runs migrations.
func OpenWithDialect(dsn string, dialect driver.Dialect) (*Store, error) {
	drv, err := driver.New(dialect)
	if err != nil {
		return nil, err
	}
	if err := drv.Open(dsn); err != nil {
		return nil, err
	}

	s := &Store{drv: drv, path: dsn}
	if err := drv.Migrate(context.Background(), schemaFS); err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.drv.Close()
}

// Path returns the database DSN/path.
func (s *Store) Path() string {
	return s.path
}

// Dialect returns the database dialect.
func (s *Store) Dialect() driver.Dialect {
	return s.drv.Dialect()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.drv.DB().PingContext(ctx)
}

// exec runs a dialect-neutral statement.
func (s *Store) exec(query string, args ...any) (sql.Result, error) {
	return s.drv.Exec(context.Background(), s.drv.Rebind(query), args...)
}

// query runs a dialect-neutral query returning rows.
func (s *Store) query(query string, args ...any) (*sql.Rows, error) {
	return s.drv.Query(context.Background(), s.drv.Rebind(query), args...)
}

// queryRow runs a dialect-neutral query returning at most one row.
func (s *Store) queryRow(query string, args ...any) *sql.Row {
	return s.drv.QueryRow(context.Background(), s.drv.Rebind(query), args...)
}

// runInTx executes fn inside a transaction, rolling back on error.
func (s *Store) runInTx(fn func(tx driver.Tx) error) error {
	ctx := context.Background()
	tx, err := s.drv.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// txExec runs a dialect-neutral statement inside a transaction.
func (s *Store) txExec(tx driver.Tx, query string, args ...any) (sql.Result, error) {
	return tx.Exec(context.Background(), s.drv.Rebind(query), args...)
}

// fmtTime formats a timestamp for storage.
func fmtTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// fmtTimePtr formats an optional timestamp, nil staying NULL.
func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := fmtTime(*t)
	return &s
}

// parseTime parses a stored timestamp, tolerating RFC3339 for rows written
// by older builds.
func parseTime(s string) time.Time {
	if ts, err := time.Parse(timeFormat, s); err == nil {
		return ts.UTC()
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC()
	}
	return time.Time{}
}

// parseTimePtr parses an optional stored timestamp.
func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	ts := parseTime(s.String)
	if ts.IsZero() {
		return nil
	}
	return &ts
}
