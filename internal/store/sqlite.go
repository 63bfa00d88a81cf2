package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const createAssociationsTable = `
CREATE TABLE IF NOT EXISTS model_associations (
    model_id   TEXT PRIMARY KEY,
    runtime    TEXT NOT NULL,
    backend_id TEXT NOT NULL,
    updated_at DATETIME NOT NULL
)`

// Compile-time interface satisfaction check.
var _ Associations = (*SQLiteStore)(nil)

// SQLiteStore implements Associations using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createAssociationsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create associations table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Associate inserts or replaces the association for a model.
func (s *SQLiteStore) Associate(ctx context.Context, modelID, runtime, backendID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO model_associations (model_id, runtime, backend_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(model_id) DO UPDATE SET
			runtime = excluded.runtime,
			backend_id = excluded.backend_id,
			updated_at = excluded.updated_at`,
		modelID, runtime, backendID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert association: %w", err)
	}
	return nil
}

// Get returns the association for one model.
func (s *SQLiteStore) Get(ctx context.Context, modelID string) (*Association, error) {
	a := &Association{}
	err := s.db.QueryRowContext(ctx,
		`SELECT model_id, runtime, backend_id, updated_at
		FROM model_associations WHERE model_id = ?`, modelID,
	).Scan(&a.ModelID, &a.Runtime, &a.BackendID, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get association: %w", err)
	}
	return a, nil
}

// ListByRuntime returns every association backed by the given runtime.
func (s *SQLiteStore) ListByRuntime(ctx context.Context, runtime string) ([]Association, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model_id, runtime, backend_id, updated_at
		FROM model_associations WHERE runtime = ? ORDER BY model_id`, runtime,
	)
	if err != nil {
		return nil, fmt.Errorf("list associations: %w", err)
	}
	defer rows.Close()

	var associations []Association
	for rows.Next() {
		var a Association
		if err := rows.Scan(&a.ModelID, &a.Runtime, &a.BackendID, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan association: %w", err)
		}
		associations = append(associations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate associations: %w", err)
	}

	return associations, nil
}
