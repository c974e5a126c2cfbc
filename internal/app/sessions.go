package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"chatloom/internal/logging"
	"chatloom/internal/rpc"
)

// directoryAPI is the slice of the RPC surface the session store needs.
type directoryAPI interface {
	CreateSession(ctx context.Context) (rpc.SessionCreated, error)
	ListSessions(ctx context.Context) ([]rpc.SessionRow, error)
	RenameSession(ctx context.Context, id rpc.ID, name string) (rpc.SessionRow, error)
	DeleteSession(ctx context.Context, id rpc.ID) (rpc.SessionDeleted, error)
	History(ctx context.Context, id rpc.ID) (rpc.History, error)
}

// SessionStore owns the session directory, the active session pointer,
// and the in-memory transcript. It is the single writer for all three;
// the view layer only reads copies.
type SessionStore struct {
	api   directoryAPI
	state *StateStore
	log   *logging.Logger

	mu         sync.Mutex
	directory  []Session
	active     rpc.ID
	transcript []Message
}

func NewSessionStore(api directoryAPI, state *StateStore, log *logging.Logger) *SessionStore {
	if log == nil {
		log = logging.NewNop()
	}
	return &SessionStore{api: api, state: state, log: log}
}

// RestoreOrCreate resumes the persisted session or starts a fresh one.
// A persisted id that no longer loads is discarded, not retried.
// Returns the active session id and its transcript.
func (s *SessionStore) RestoreOrCreate(ctx context.Context) (rpc.ID, []Message, error) {
	persisted, err := s.state.ActiveSession()
	if err != nil {
		s.log.Warn("read persisted session", zap.Error(err))
	}
	if persisted.Valid() {
		err := s.SwitchTo(ctx, persisted)
		if err == nil {
			s.refreshDirectory(ctx)
			return persisted, s.Transcript(), nil
		}
		s.log.Info("persisted session unavailable, starting fresh",
			zap.String("session", persisted.String()), zap.Error(err))
		if cerr := s.state.ClearActiveSession(); cerr != nil {
			s.log.Warn("clear stale session pointer", zap.Error(cerr))
		}
	}
	id, err := s.Create(ctx)
	if err != nil {
		return rpc.ID{}, nil, err
	}
	return id, nil, nil
}

// SwitchTo makes id the active session. The transcript is replaced with
// the server's list; optimistic entries from the previous session are
// discarded, drafts included. Nothing changes if the history fetch
// fails.
func (s *SessionStore) SwitchTo(ctx context.Context, id rpc.ID) error {
	if !id.Valid() {
		return ErrNoSession
	}
	hist, err := s.api.History(ctx, id)
	if err != nil {
		return fmt.Errorf("load session %s: %w", id.String(), err)
	}
	msgs := make([]Message, 0, len(hist.Messages))
	for _, w := range hist.Messages {
		msgs = append(msgs, messageFromWire(w))
	}
	s.mu.Lock()
	s.active = id
	s.transcript = msgs
	s.mu.Unlock()

	if err := s.state.SetActiveSession(id); err != nil {
		s.log.Warn("persist active session", zap.Error(err))
	}
	s.log.Info("session switch",
		zap.String("session", id.String()), zap.Int("messages", len(msgs)))
	return nil
}

// Create starts a new session, makes it active, and persists the id.
func (s *SessionStore) Create(ctx context.Context) (rpc.ID, error) {
	created, err := s.api.CreateSession(ctx)
	if err != nil {
		return rpc.ID{}, fmt.Errorf("create session: %w", err)
	}
	s.mu.Lock()
	s.active = created.SessionID
	s.transcript = nil
	s.mu.Unlock()

	if err := s.state.SetActiveSession(created.SessionID); err != nil {
		s.log.Warn("persist active session", zap.Error(err))
	}
	s.refreshDirectory(ctx)
	s.log.Info("session created", zap.String("session", created.SessionID.String()))
	return created.SessionID, nil
}

// Rename sets a session's name. Validation happens at the input
// boundary; here the server is authoritative. The directory is
// re-fetched so server-assigned fields stay canonical.
func (s *SessionStore) Rename(ctx context.Context, id rpc.ID, name string) error {
	if _, err := s.api.RenameSession(ctx, id, name); err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	s.refreshDirectory(ctx)
	return nil
}

// Remove deletes a session. Removing the active session clears the
// pointer and transcript; selecting a replacement is the caller's job.
func (s *SessionStore) Remove(ctx context.Context, id rpc.ID) error {
	if _, err := s.api.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.mu.Lock()
	wasActive := s.active.Valid() && s.active.Equal(id)
	if wasActive {
		s.active = rpc.ID{}
		s.transcript = nil
	}
	s.mu.Unlock()

	if wasActive {
		if err := s.state.ClearActiveSession(); err != nil {
			s.log.Warn("clear active session pointer", zap.Error(err))
		}
	}
	s.refreshDirectory(ctx)
	s.log.Info("session removed", zap.String("session", id.String()))
	return nil
}

// ListAll re-fetches the directory. On failure the previous list is
// retained.
func (s *SessionStore) ListAll(ctx context.Context) error {
	rows, err := s.api.ListSessions(ctx)
	if err != nil {
		s.log.Warn("list sessions", zap.Error(err))
		return fmt.Errorf("list sessions: %w", err)
	}
	dir := make([]Session, 0, len(rows))
	for _, r := range rows {
		dir = append(dir, sessionFromRow(r))
	}
	s.mu.Lock()
	s.directory = dir
	s.mu.Unlock()
	return nil
}

// refreshDirectory is the soft-failure re-fetch run after mutations.
func (s *SessionStore) refreshDirectory(ctx context.Context) {
	_ = s.ListAll(ctx)
}

// Directory returns a copy of the last fetched session list.
func (s *SessionStore) Directory() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, len(s.directory))
	copy(out, s.directory)
	return out
}

// Active returns the active session id, invalid when none is selected.
func (s *SessionStore) Active() rpc.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ActiveSession returns the directory row for the active session.
func (s *SessionStore) ActiveSession() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.directory {
		if sess.ID.Equal(s.active) {
			return sess, true
		}
	}
	return Session{}, false
}

// Transcript returns a copy of the in-memory transcript.
func (s *SessionStore) Transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

func (s *SessionStore) appendMessage(m Message) {
	s.mu.Lock()
	s.transcript = append(s.transcript, m)
	s.mu.Unlock()
}

// setContent rewrites one entry's text, keyed by server id. Position
// and id never change.
func (s *SessionStore) setContent(id rpc.ID, content string) bool {
	if !id.Valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.transcript {
		if s.transcript[i].ID.Equal(id) {
			s.transcript[i].Content = content
			return true
		}
	}
	return false
}

// adoptID backfills a server id onto the oldest pending entry matching
// role and content. Used when the server echoes a turn it has stored.
// Oldest-first keeps adopted ids aligned with server order when
// identical texts repeat.
func (s *SessionStore) adoptID(role Role, content string, id rpc.ID) bool {
	if !id.Valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.transcript {
		m := s.transcript[i]
		if m.Pending() && m.Role == role && m.Content == content {
			s.transcript[i].ID = id
			return true
		}
	}
	return false
}

// hasPendingUser reports whether an unconfirmed user entry exists.
func (s *SessionStore) hasPendingUser() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.transcript {
		if m.Pending() && m.Role == RoleUser {
			return true
		}
	}
	return false
}

// hasMessage reports whether the transcript holds an entry with id.
func (s *SessionStore) hasMessage(id rpc.ID) bool {
	if !id.Valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.transcript {
		if m.ID.Equal(id) {
			return true
		}
	}
	return false
}
