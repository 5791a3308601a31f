// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tally-dev/tally/internal/store"
)

// Compile-time interface check.
var _ store.RecordStore = (*RecordStore)(nil)

// RecordStore implements store.RecordStore backed by a single SQLite table.
type RecordStore struct {
	db *sql.DB
}

// NewRecordStore opens (or creates) a SQLite database at dbPath and
// initialises the records table.
func NewRecordStore(dbPath string) (*RecordStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	s, err := NewRecordStoreWithDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewRecordStoreWithDB wraps an already opened database. The store takes
// ownership of db and closes it on Close.
func NewRecordStoreWithDB(db *sql.DB) (*RecordStore, error) {
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrating sqlite db: %w", err)
	}
	return &RecordStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS records (
	collection TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (collection, key)
);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

func (s *RecordStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	if err := store.CheckKey(collection, key); err != nil {
		return nil, err
	}

	const q = `SELECT value FROM records WHERE collection = ? AND key = ?`

	var value []byte
	err := s.db.QueryRowContext(ctx, q, collection, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s/%s: %w", collection, key, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting record %s/%s: %w: %w", collection, key, store.ErrDatabase, err)
	}
	return value, nil
}

func (s *RecordStore) Put(ctx context.Context, collection, key string, value []byte) error {
	if err := store.CheckKey(collection, key); err != nil {
		return err
	}

	const q = `INSERT INTO records (collection, key, value, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(collection, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, q, collection, key, value, formatTime(time.Now())); err != nil {
		return fmt.Errorf("putting record %s/%s: %w: %w", collection, key, store.ErrDatabase, err)
	}
	return nil
}

func (s *RecordStore) List(ctx context.Context, collection string) ([]store.Record, error) {
	if collection == "" {
		return nil, fmt.Errorf("empty collection: %w", store.ErrInvalidInput)
	}

	const q = `SELECT key, value FROM records WHERE collection = ? ORDER BY key`

	rows, err := s.db.QueryContext(ctx, q, collection)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w: %w", collection, store.ErrDatabase, err)
	}
	defer func() { _ = rows.Close() }()

	var out []store.Record
	for rows.Next() {
		var r store.Record
		if err := rows.Scan(&r.Key, &r.Value); err != nil {
			return nil, fmt.Errorf("scanning %s: %w: %w", collection, store.ErrDatabase, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w: %w", collection, store.ErrDatabase, err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
