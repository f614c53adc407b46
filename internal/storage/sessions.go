// Package storage persists a per-session index to sqlite so recordings on
// the USB stick can be matched to when and why they were captured.
package storage

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/lookout-data/lookout/internal/monitoring"
)

// Store is the sqlite-backed session index.
type Store struct {
	db *sql.DB
}

// Session is one recorded surveillance interval.
type Session struct {
	ID            string
	OutputPath    string
	StartedAt     time.Time
	EndedAt       sql.NullTime
	FramesWritten int
}

// Open opens (creating if necessary) the session index at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session index: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id        TEXT PRIMARY KEY,
			output_path       TEXT NOT NULL,
			started_at        TIMESTAMP NOT NULL,
			ended_at          TIMESTAMP,
			frames_written    BIGINT NOT NULL DEFAULT 0
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginSession inserts a new session row and returns its ID.
func (s *Store) BeginSession(outputPath string, at time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, output_path, started_at) VALUES (?, ?, ?)`,
		id, outputPath, at.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert session: %w", err)
	}
	return id, nil
}

// EndSession records the end time and final frame count for a session.
func (s *Store) EndSession(id string, at time.Time, framesWritten int) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET ended_at = ?, frames_written = ? WHERE session_id = ?`,
		at.UTC(), framesWritten, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no session with id %s", id)
	}
	return nil
}

// Sessions returns all sessions ordered by start time.
func (s *Store) Sessions() ([]Session, error) {
	rows, err := s.db.Query(
		`SELECT session_id, output_path, started_at, ended_at, frames_written
		 FROM sessions ORDER BY started_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.OutputPath, &sess.StartedAt, &sess.EndedAt, &sess.FramesWritten); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Log adapts the Store to the recorder's SessionListener interface. It keeps
// the in-flight session ID between the started and ended callbacks, which the
// writer goroutine delivers in order.
type Log struct {
	store *Store

	mu     sync.Mutex
	openID string
}

// NewLog creates a session listener writing to store.
func NewLog(store *Store) *Log {
	return &Log{store: store}
}

// SessionStarted records a new session row.
func (l *Log) SessionStarted(path string, at time.Time) {
	id, err := l.store.BeginSession(path, at)
	if err != nil {
		monitoring.Logf("failed to index session start for %s: %v", path, err)
		return
	}
	l.mu.Lock()
	l.openID = id
	l.mu.Unlock()
}

// SessionEnded completes the in-flight session row.
func (l *Log) SessionEnded(path string, at time.Time, framesWritten int) {
	l.mu.Lock()
	id := l.openID
	l.openID = ""
	l.mu.Unlock()

	if id == "" {
		monitoring.Logf("session end for %s with no indexed start, skipping", path)
		return
	}
	if err := l.store.EndSession(id, at, framesWritten); err != nil {
		monitoring.Logf("failed to index session end for %s: %v", path, err)
	}
}
