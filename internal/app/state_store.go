package app

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"chatloom/internal/rpc"
)

// stateKeyActiveSession is the only client_state key the client writes.
// It holds the id of the session to restore on the next start and is
// owned exclusively by the session store: set on switch/create, cleared
// on remove of the active session.
const stateKeyActiveSession = "active_session_id"

// promptHistoryCap bounds the recall buffer.
const promptHistoryCap = 200

// StateStore is the local persistence layer: a small sqlite database
// under the state dir. Everything else lives on the server.
type StateStore struct {
	dir    string
	dbPath string

	mu   sync.Mutex
	db   *sql.DB
	once sync.Once
	err  error
}

func NewStateStore(dir string) *StateStore {
	return &StateStore{
		dir:    dir,
		dbPath: filepath.Join(dir, "state.db"),
	}
}

func (s *StateStore) init() error {
	s.once.Do(func() {
		if err := os.MkdirAll(s.dir, 0755); err != nil {
			s.err = fmt.Errorf("create state dir: %w", err)
			return
		}
		db, err := sql.Open("sqlite", s.dbPath)
		if err != nil {
			s.err = fmt.Errorf("open state db: %w", err)
			return
		}
		pragmas := []string{
			"PRAGMA busy_timeout = 5000;",
			"PRAGMA journal_mode = WAL;",
			"PRAGMA synchronous = NORMAL;",
		}
		for _, p := range pragmas {
			if _, err := db.Exec(p); err != nil {
				_ = db.Close()
				s.err = fmt.Errorf("apply pragma: %w", err)
				return
			}
		}
		schema := []string{
			`CREATE TABLE IF NOT EXISTS client_state (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at_ns INTEGER NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS prompt_history (
				id     INTEGER PRIMARY KEY AUTOINCREMENT,
				prompt TEXT NOT NULL,
				created_at_ns INTEGER NOT NULL
			);`,
		}
		for _, stmt := range schema {
			if _, err := db.Exec(stmt); err != nil {
				_ = db.Close()
				s.err = fmt.Errorf("create schema: %w", err)
				return
			}
		}
		s.db = db
	})
	return s.err
}

func (s *StateStore) dbConn() (*sql.DB, error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, errors.New("state store closed")
	}
	return db, nil
}

func (s *StateStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// ActiveSession returns the persisted active session id. An invalid id
// means nothing is persisted.
func (s *StateStore) ActiveSession() (rpc.ID, error) {
	db, err := s.dbConn()
	if err != nil {
		return rpc.ID{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	row := db.QueryRow(`SELECT value FROM client_state WHERE key = ?`, stateKeyActiveSession)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rpc.ID{}, nil
		}
		return rpc.ID{}, fmt.Errorf("read active session: %w", err)
	}
	return rpc.ParseID(value), nil
}

// SetActiveSession persists the session to restore on next start.
func (s *StateStore) SetActiveSession(id rpc.ID) error {
	if !id.Valid() {
		return errors.New("missing session id")
	}
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = db.Exec(`
		INSERT INTO client_state (key, value, updated_at_ns) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at_ns = excluded.updated_at_ns
	`, stateKeyActiveSession, id.String(), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("persist active session: %w", err)
	}
	return nil
}

// ClearActiveSession forgets the persisted session pointer.
func (s *StateStore) ClearActiveSession() error {
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := db.Exec(`DELETE FROM client_state WHERE key = ?`, stateKeyActiveSession); err != nil {
		return fmt.Errorf("clear active session: %w", err)
	}
	return nil
}

// AppendPrompt records one submitted input line for recall. Consecutive
// duplicates collapse; the buffer stays capped.
func (s *StateStore) AppendPrompt(prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil
	}
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var last string
	row := db.QueryRow(`SELECT prompt FROM prompt_history ORDER BY id DESC LIMIT 1`)
	if err := row.Scan(&last); err == nil && last == prompt {
		return nil
	}

	if _, err := db.Exec(`INSERT INTO prompt_history (prompt, created_at_ns) VALUES (?, ?)`,
		prompt, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("append prompt: %w", err)
	}
	_, err = db.Exec(`
		DELETE FROM prompt_history WHERE id NOT IN (
			SELECT id FROM prompt_history ORDER BY id DESC LIMIT ?
		)
	`, promptHistoryCap)
	if err != nil {
		return fmt.Errorf("trim prompt history: %w", err)
	}
	return nil
}

// RecentPrompts returns up to limit prompts, newest first.
func (s *StateStore) RecentPrompts(limit int) ([]string, error) {
	if limit <= 0 || limit > promptHistoryCap {
		limit = promptHistoryCap
	}
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := db.Query(`SELECT prompt FROM prompt_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("load prompt history: %w", err)
	}
	defer rows.Close()

	var prompts []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			continue
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}
