package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/shotkit/dbopen"
)

// Capture is one journal row: the terminal outcome of a command.
type Capture struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	Format     string    `json:"format,omitempty"`
	TabURL     string    `json:"tab_url,omitempty"`
	Path       string    `json:"path,omitempty"`
	Status     string    `json:"status"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Message    string    `json:"message,omitempty"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	Tiles      int       `json:"tiles,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// ErrCaptureNotFound is returned by GetCapture for an unknown id.
var ErrCaptureNotFound = errors.New("store: capture not found")

const captureColumns = `id, action, format, tab_url, path, status, error_kind, message,
	width, height, tiles, duration_ms, created_at`

// RecordCapture inserts c. CreatedAt defaults to now. When MaxCaptures is
// set the oldest rows beyond it are pruned in the same transaction.
func (s *Store) RecordCapture(ctx context.Context, c *Capture) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO captures (`+captureColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Action, c.Format, c.TabURL, c.Path, c.Status, c.ErrorKind,
			c.Message, c.Width, c.Height, c.Tiles, c.DurationMs, c.CreatedAt.UnixMilli()); err != nil {
			return err
		}
		if s.MaxCaptures <= 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			DELETE FROM captures WHERE rowid NOT IN (
				SELECT rowid FROM captures ORDER BY created_at DESC, rowid DESC LIMIT ?)`,
			s.MaxCaptures)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: record capture: %w", err)
	}
	return nil
}

// GetCapture returns the journal row with the given id.
func (s *Store) GetCapture(ctx context.Context, id string) (*Capture, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+captureColumns+` FROM captures WHERE id = ?`, id)
	c, err := scanCapture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCaptureNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get capture: %w", err)
	}
	return c, nil
}

// ListCaptures returns the most recent captures, newest first.
func (s *Store) ListCaptures(ctx context.Context, limit int) ([]*Capture, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+captureColumns+`
		FROM captures ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list captures: %w", err)
	}
	defer rows.Close()

	var out []*Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan capture: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCapture(row interface{ Scan(...any) error }) (*Capture, error) {
	c := &Capture{}
	var created int64
	if err := row.Scan(&c.ID, &c.Action, &c.Format, &c.TabURL, &c.Path, &c.Status,
		&c.ErrorKind, &c.Message, &c.Width, &c.Height, &c.Tiles, &c.DurationMs, &created); err != nil {
		return nil, err
	}
	c.CreatedAt = time.UnixMilli(created).UTC()
	return c, nil
}
