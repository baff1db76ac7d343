// Package store persists a local copy of the notification collection so
// the UI can keep serving cached data when real-time delivery is
// unavailable.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/gigtree/realtime/internal/model"
)

// Cache is a SQLite-backed notification cache.
type Cache struct {
	db *sqlx.DB
}

// Open opens (or creates) the cache database at dbPath, enables WAL mode,
// and runs any pending schema migrations.
func Open(dbPath string) (*Cache, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// WAL for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	c := &Cache{db: db}
	if err := c.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return c, nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (c *Cache) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := c.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = c.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := c.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration %d: %w", m.version, err)
		}
		if _, err := c.db.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
	}

	return nil
}

// notificationRow is the database shape of a notification record.
type notificationRow struct {
	ID           string       `db:"id"`
	Type         string       `db:"type"`
	Title        string       `db:"title"`
	Message      string       `db:"message"`
	Payload      string       `db:"payload"`
	Read         bool         `db:"read"`
	ReadAt       sql.NullTime `db:"read_at"`
	CreatedAt    time.Time    `db:"created_at"`
	ActionTarget string       `db:"action_target"`
}

func (r notificationRow) toModel() model.NotificationRecord {
	rec := model.NotificationRecord{
		ID:           r.ID,
		Type:         r.Type,
		Title:        r.Title,
		Message:      r.Message,
		Read:         r.Read,
		CreatedAt:    r.CreatedAt.UTC(),
		ActionTarget: r.ActionTarget,
	}
	if r.Payload != "" {
		rec.Payload = json.RawMessage(r.Payload)
	}
	if r.ReadAt.Valid {
		rec.ReadAt = r.ReadAt.Time.UTC()
	}
	return rec
}

// Upsert inserts or replaces a notification record.
func (c *Cache) Upsert(rec model.NotificationRecord) error {
	var readAt any
	if !rec.ReadAt.IsZero() {
		readAt = rec.ReadAt.UTC()
	}

	_, err := c.db.Exec(`
INSERT INTO notifications (id, type, title, message, payload, read, read_at, created_at, action_target)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	type = excluded.type,
	title = excluded.title,
	message = excluded.message,
	payload = excluded.payload,
	read = excluded.read,
	read_at = excluded.read_at,
	action_target = excluded.action_target`,
		rec.ID, rec.Type, rec.Title, rec.Message, string(rec.Payload),
		rec.Read, readAt, rec.CreatedAt.UTC(), rec.ActionTarget,
	)
	if err != nil {
		return fmt.Errorf("upserting notification %s: %w", rec.ID, err)
	}
	return nil
}

// List returns up to limit records, newest first.
func (c *Cache) List(limit int) ([]model.NotificationRecord, error) {
	var rows []notificationRow
	err := c.db.Select(&rows, `
SELECT id, type, title, message, payload, read, read_at, created_at, action_target
FROM notifications
ORDER BY created_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}

	recs := make([]model.NotificationRecord, 0, len(rows))
	for _, r := range rows {
		recs = append(recs, r.toModel())
	}
	return recs, nil
}

// MarkRead flags a single record as read.
func (c *Cache) MarkRead(id string, at time.Time) error {
	_, err := c.db.Exec(
		"UPDATE notifications SET read = 1, read_at = ? WHERE id = ?",
		at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("marking notification %s read: %w", id, err)
	}
	return nil
}

// MarkAllRead flags every record as read.
func (c *Cache) MarkAllRead(at time.Time) error {
	_, err := c.db.Exec(
		"UPDATE notifications SET read = 1, read_at = ? WHERE read = 0",
		at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("marking all notifications read: %w", err)
	}
	return nil
}

// Prune deletes the oldest rows beyond capacity, matching the in-memory
// collection's eviction rule (read state does not protect a row).
func (c *Cache) Prune(capacity int) error {
	_, err := c.db.Exec(`
DELETE FROM notifications WHERE id NOT IN (
	SELECT id FROM notifications ORDER BY created_at DESC LIMIT ?
)`, capacity)
	if err != nil {
		return fmt.Errorf("pruning notifications: %w", err)
	}
	return nil
}
