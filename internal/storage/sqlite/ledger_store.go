// Package sqlite persists the ledger document in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Register the pure-Go sqlite driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/forum-lead-crawler/internal/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_documents (
	name       TEXT PRIMARY KEY,
	document   BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);`

// Config selects the database file and ledger name.
type Config struct {
	// Path is a file path or ":memory:".
	Path string
	Name string
}

// LedgerStore keeps ledger documents in SQLite.
type LedgerStore struct {
	db   *sql.DB
	name string
}

// Open opens (and if needed creates) the database.
func Open(ctx context.Context, cfg Config) (*LedgerStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	name := cfg.Name
	if name == "" {
		name = "default"
	}
	return &LedgerStore{db: db, name: name}, nil
}

// Read returns the document or ledger.ErrNotFound.
func (s *LedgerStore) Read(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT document FROM ledger_documents WHERE name = ?`, s.name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select ledger: %w", err)
	}
	return data, nil
}

// Write upserts the document.
func (s *LedgerStore) Write(ctx context.Context, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO ledger_documents (name, document, updated_at) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		s.name, data, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert ledger: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *LedgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
