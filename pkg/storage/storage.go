// Package storage provides the durable session state store backing the
// sync layer: the persisted activity and audit buffers and the session
// token, kept as named entries in a single SQLite database.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Fixed keys for the persisted entries. Other components refer to these
// instead of inventing their own names.
const (
	KeyActivityLog  = "activity_log"
	KeyAuditStream  = "audit_stream"
	KeySessionToken = "session_token"
)

type Store struct {
	db   *sql.DB
	path string
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Apply performance pragmas
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA temp_store = memory",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating kv table: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the raw value for key. The boolean is false when the key
// has never been written.
func (s *Store) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading key %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) Put(key, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
	`, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("writing key %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting key %s: %w", key, err)
	}
	return nil
}

// GetJSON unmarshals the stored value for key into v. The boolean is
// false when the key is absent; v is left untouched in that case.
func (s *Store) GetJSON(key string, v any) (bool, error) {
	raw, ok, err := s.Get(key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("unmarshaling key %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) PutJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling key %s: %w", key, err)
	}
	return s.Put(key, string(data))
}

// Token returns the stored session token, or "" when none is set.
func (s *Store) Token() (string, error) {
	token, _, err := s.Get(KeySessionToken)
	return token, err
}

func (s *Store) SetToken(token string) error {
	return s.Put(KeySessionToken, token)
}

func (s *Store) ClearToken() error {
	return s.Delete(KeySessionToken)
}

func (s *Store) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var entries int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&entries); err != nil {
		return nil, fmt.Errorf("counting entries: %w", err)
	}
	stats["entries"] = entries
	stats["path"] = s.path

	var newest sql.NullString
	err := s.db.QueryRow(`SELECT MAX(updated_at) FROM kv`).Scan(&newest)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("getting newest update: %w", err)
	}
	if newest.Valid {
		if t, err := time.Parse(time.RFC3339, newest.String); err == nil {
			stats["last_write"] = t
		}
	}

	return stats, nil
}

func (s *Store) Optimize() error {
	_, err := s.db.Exec("PRAGMA optimize")
	return err
}
