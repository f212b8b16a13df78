// Package persistence provides SQLite-backed storage for per-session stream
// resume cursors, so a restarted client can re-attach where it left off.
// Conversation content itself is never persisted; the timeline is rebuilt
// from the live stream.
package persistence

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Cursor records the last event acknowledged for a session. LastEventID is
// passed back to the platform as the "after" parameter on reconnect.
type Cursor struct {
	SessionID   string `json:"sessionId"`
	LastEventID string `json:"lastEventId"`
	LastEventAt string `json:"lastEventAt"` // ISO 8601
	UpdatedAt   string `json:"updatedAt"`   // ISO 8601
}

// Store provides persistent cursor state backed by SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates or opens a SQLite database at the given path.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite tuning for write-heavy workloads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies schema migrations.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []func(*sql.DB) error{
		migrateV1,
	}

	for i := version; i < len(migrations); i++ {
		slog.Info("Applying persistence migration", "version", i+1)
		if err := migrations[i](s.db); err != nil {
			return fmt.Errorf("migration v%d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("record migration v%d: %w", i+1, err)
		}
	}

	return nil
}

// migrateV1 creates the cursors table.
func migrateV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cursors (
			session_id TEXT PRIMARY KEY,
			last_event_id TEXT NOT NULL DEFAULT '',
			last_event_at TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)
	`)
	return err
}

// SaveCursor upserts the cursor for a session.
func (s *Store) SaveCursor(c Cursor) error {
	if c.SessionID == "" {
		return fmt.Errorf("save cursor: session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c.UpdatedAt == "" {
		c.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO cursors (session_id, last_event_id, last_event_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		c.SessionID, c.LastEventID, c.LastEventAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// GetCursor retrieves the cursor for a session.
// Returns nil, nil if no cursor exists.
func (s *Store) GetCursor(sessionID string) (*Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c Cursor
	err := s.db.QueryRow(
		`SELECT session_id, last_event_id, last_event_at, updated_at
		FROM cursors WHERE session_id = ?`,
		sessionID,
	).Scan(&c.SessionID, &c.LastEventID, &c.LastEventAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor: %w", err)
	}
	return &c, nil
}

// ListCursors returns all known cursors ordered by session id.
func (s *Store) ListCursors() ([]Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT session_id, last_event_id, last_event_at, updated_at
		FROM cursors ORDER BY session_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	var cursors []Cursor
	for rows.Next() {
		var c Cursor
		if err := rows.Scan(&c.SessionID, &c.LastEventID, &c.LastEventAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		cursors = append(cursors, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cursors: %w", err)
	}

	if cursors == nil {
		cursors = []Cursor{}
	}
	return cursors, nil
}

// DeleteCursor removes the cursor for a session.
func (s *Store) DeleteCursor(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM cursors WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("delete cursor: %w", err)
	}
	return nil
}
