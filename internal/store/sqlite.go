// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides exchange/sync-run persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS exchanges (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			query TEXT NOT NULL,
			outcome TEXT NOT NULL,
			chunks INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_exchanges_session ON exchanges(session_id);
		CREATE INDEX IF NOT EXISTS idx_exchanges_created ON exchanges(created_at);

		CREATE TABLE IF NOT EXISTS sync_runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			language TEXT NOT NULL,
			datastore_id TEXT NOT NULL DEFAULT '',
			items INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sync_runs_created ON sync_runs(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordExchange inserts an exchange audit row, assigning an id and
// timestamp when the caller left them empty.
func (s *SQLiteStore) RecordExchange(ctx context.Context, exchange *Exchange) error {
	if exchange.ID == "" {
		exchange.ID = uuid.New().String()
	}
	if exchange.CreatedAt.IsZero() {
		exchange.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchanges (id, session_id, query, outcome, chunks, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		exchange.ID, exchange.SessionID, exchange.Query, exchange.Outcome,
		exchange.Chunks, exchange.Duration.Milliseconds(), exchange.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording exchange: %w", err)
	}
	return nil
}

// GetExchange retrieves a single exchange by id.
func (s *SQLiteStore) GetExchange(ctx context.Context, id string) (*Exchange, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, query, outcome, chunks, duration_ms, created_at
		FROM exchanges WHERE id = ?`, id)

	exchange, err := scanExchange(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting exchange: %w", err)
	}
	return exchange, nil
}

// ListExchanges returns the most recent exchanges, newest first.
func (s *SQLiteStore) ListExchanges(ctx context.Context, limit int) ([]*Exchange, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, query, outcome, chunks, duration_ms, created_at
		FROM exchanges ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []*Exchange
	for rows.Next() {
		exchange, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning exchange: %w", err)
		}
		exchanges = append(exchanges, exchange)
	}
	return exchanges, rows.Err()
}

// RecordSyncRun inserts a sync run audit row.
func (s *SQLiteStore) RecordSyncRun(ctx context.Context, run *SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, kind, language, datastore_id, items, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.Language, run.DatastoreID,
		run.Items, run.Duration.Milliseconds(), run.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording sync run: %w", err)
	}
	return nil
}

// ListSyncRuns returns the most recent sync runs, newest first.
func (s *SQLiteStore) ListSyncRuns(ctx context.Context, limit int) ([]*SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, language, datastore_id, items, duration_ms, created_at
		FROM sync_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*SyncRun
	for rows.Next() {
		var (
			run        SyncRun
			durationMS int64
		)
		if err := rows.Scan(&run.ID, &run.Kind, &run.Language, &run.DatastoreID,
			&run.Items, &durationMS, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning sync run: %w", err)
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExchange(row rowScanner) (*Exchange, error) {
	var (
		exchange   Exchange
		durationMS int64
	)
	if err := row.Scan(&exchange.ID, &exchange.SessionID, &exchange.Query,
		&exchange.Outcome, &exchange.Chunks, &durationMS, &exchange.CreatedAt); err != nil {
		return nil, err
	}
	exchange.Duration = time.Duration(durationMS) * time.Millisecond
	return &exchange, nil
}
