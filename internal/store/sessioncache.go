// Package store persists the small amount of bridge state that must
// survive restarts. The backing store is a local SQLite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sessionSchema = `
CREATE TABLE IF NOT EXISTS integration_session (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	session_id TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);
`

// SessionCache persists the resolved integration session id and title so a
// restarted bridge reattaches to the same backend session instead of
// creating a new one. A single row; the backend remains the source of
// truth and cached ids are still validated on use.
type SessionCache struct {
	db *sql.DB
}

// OpenSessionCache opens (and if needed creates) the cache database at path.
func OpenSessionCache(path string) (*SessionCache, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	// A single writer is plenty here and avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sessionSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init state db: %w", err)
	}
	return &SessionCache{db: db}, nil
}

// Load returns the persisted session id and title. A missing row is not an
// error; both values come back empty.
func (c *SessionCache) Load() (id, title string, err error) {
	row := c.db.QueryRow(`SELECT session_id, title FROM integration_session WHERE id = 1`)
	if err := row.Scan(&id, &title); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", nil
		}
		return "", "", fmt.Errorf("load session cache: %w", err)
	}
	return id, title, nil
}

// Save upserts the persisted session.
func (c *SessionCache) Save(id, title string) error {
	_, err := c.db.Exec(`
		INSERT INTO integration_session (id, session_id, title, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			session_id = excluded.session_id,
			title      = excluded.title,
			updated_at = excluded.updated_at`,
		id, title, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save session cache: %w", err)
	}
	return nil
}

// Clear drops the persisted session.
func (c *SessionCache) Clear() error {
	if _, err := c.db.Exec(`DELETE FROM integration_session WHERE id = 1`); err != nil {
		return fmt.Errorf("clear session cache: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (c *SessionCache) Close() error {
	return c.db.Close()
}
