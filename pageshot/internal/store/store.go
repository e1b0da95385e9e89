// Package store is the SQLite persistence for pageshot: the stored format
// preference and the capture journal.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/shotkit/dbopen"
	"github.com/hazyhaar/shotkit/pageshot/shot"
)

// Schema creates every pageshot table.
const Schema = `
CREATE TABLE IF NOT EXISTS preferences (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS captures (
	id          TEXT PRIMARY KEY,
	action      TEXT NOT NULL,
	format      TEXT NOT NULL DEFAULT '',
	tab_url     TEXT NOT NULL DEFAULT '',
	path        TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	error_kind  TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	width       INTEGER NOT NULL DEFAULT 0,
	height      INTEGER NOT NULL DEFAULT 0,
	tiles       INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_captures_created ON captures(created_at DESC);
`

// FormatKey is the preference holding the default output format.
const FormatKey = "captureFormat"

// Store is the pageshot database handle.
type Store struct {
	DB *sql.DB
	// MaxCaptures bounds the journal. 0 keeps every row.
	MaxCaptures int
}

// Open opens (or creates) the database at path and applies Schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	all := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, all...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Format returns the stored format, or "" when none was saved.
func (s *Store) Format(ctx context.Context) (shot.Format, error) {
	var v string
	err := s.DB.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE key = ?`, FormatKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get format: %w", err)
	}
	f, err := shot.ParseFormat(v)
	if err != nil {
		return "", fmt.Errorf("store: get format: %w", err)
	}
	return f, nil
}

// SetFormat saves f as the default format.
func (s *Store) SetFormat(ctx context.Context, f shot.Format) error {
	if !f.Valid() {
		return fmt.Errorf("store: set format: invalid %q", f)
	}
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		FormatKey, string(f), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: set format: %w", err)
	}
	return nil
}
