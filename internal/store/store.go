// Package store implements the orchestrator's embedded persistence layer: a
// single SQLite database holding the test catalog, runs, per-test rows, and
// schedules. All mutations run in short transactions; status transitions are
// enforced with conditional updates so concurrent loops can never move a row
// backwards. Timestamps are stored as Unix nanoseconds (INTEGER columns).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	// Pure-Go SQLite driver (no CGO), registers as "sqlite".
	_ "modernc.org/sqlite"
)

// Store owns the database connection. It is safe for concurrent use; the
// sole-writer pattern (one pooled connection) serializes writes while WAL
// keeps readers cheap.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the SQLite database at dbPath, applies
// pragmas and migrations, and returns a ready Store. Any migration error is
// fatal to startup. Use a path under t.TempDir() in tests.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("store ready", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: closing database: %w", err)
	}

	return nil
}

// DB exposes the underlying handle for read-only aggregation queries.
func (s *Store) DB() *sql.DB {
	return s.db
}
