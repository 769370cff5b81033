// Package session persists operator credentials and sync bookkeeping
// between CLI invocations.
package session

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNoSession is returned by Load when no session has been saved.
var ErrNoSession = errors.New("no saved session")

// Session is the operator identity used for service calls.
type Session struct {
	Token      string
	TopicKey   string
	SavedAt    time.Time
	LastSyncAt *time.Time
}

// Store manages session state in SQLite.
type Store struct {
	DBPath string
	db     *sql.DB
}

// Open opens or creates the session database.
func Open(path string) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve session db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure session db dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}

	store := &Store{
		DBPath: absPath,
		db:     db,
	}

	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS sessions (
	topic_key TEXT PRIMARY KEY,
	token TEXT NOT NULL,
	saved_at TEXT NOT NULL,
	last_sync_at TEXT
);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("create session schema: %w", err)
	}
	return nil
}

// Save stores or replaces the session for a topic key.
func (s *Store) Save(sess Session) error {
	if sess.TopicKey == "" {
		return fmt.Errorf("save session: topic key is required")
	}
	if sess.Token == "" {
		return fmt.Errorf("save session: token is required")
	}

	savedAt := sess.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
INSERT INTO sessions (topic_key, token, saved_at, last_sync_at)
VALUES (?, ?, ?, NULL)
ON CONFLICT(topic_key) DO UPDATE SET token = excluded.token, saved_at = excluded.saved_at
`, sess.TopicKey, sess.Token, savedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Load returns the session for a topic key, or ErrNoSession.
func (s *Store) Load(topicKey string) (*Session, error) {
	row := s.db.QueryRow(`
SELECT token, saved_at, last_sync_at FROM sessions WHERE topic_key = ?
`, topicKey)

	var token, savedAtStr string
	var lastSyncStr sql.NullString
	if err := row.Scan(&token, &savedAtStr, &lastSyncStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	savedAt, err := time.Parse(time.RFC3339, savedAtStr)
	if err != nil {
		return nil, fmt.Errorf("load session: parse saved_at: %w", err)
	}

	sess := &Session{
		Token:    token,
		TopicKey: topicKey,
		SavedAt:  savedAt,
	}
	if lastSyncStr.Valid && lastSyncStr.String != "" {
		ts, err := time.Parse(time.RFC3339, lastSyncStr.String)
		if err != nil {
			return nil, fmt.Errorf("load session: parse last_sync_at: %w", err)
		}
		sess.LastSyncAt = &ts
	}
	return sess, nil
}

// TouchSync records the time of the latest successful reconciliation.
func (s *Store) TouchSync(topicKey string, at time.Time) error {
	_, err := s.db.Exec(`
UPDATE sessions SET last_sync_at = ? WHERE topic_key = ?
`, at.UTC().Format(time.RFC3339), topicKey)
	if err != nil {
		return fmt.Errorf("touch session sync: %w", err)
	}
	return nil
}

// Clear deletes the session for a topic key. Clearing a missing session
// is not an error.
func (s *Store) Clear(topicKey string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE topic_key = ?`, topicKey)
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
