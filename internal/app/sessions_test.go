package app

import (
	"context"
	"errors"
	"testing"

	"chatloom/internal/logging"
	"chatloom/internal/rpc"
)

type fakeDirectory struct {
	createResp  rpc.SessionCreated
	createErr   error
	createCalls int

	listResp  []rpc.SessionRow
	listErr   error
	listCalls int

	renameErr   error
	renamedID   rpc.ID
	renamedName string

	deleteErr error
	deletedID rpc.ID

	histories map[string]rpc.History
	histErr   error
	histCalls int
}

func (f *fakeDirectory) CreateSession(ctx context.Context) (rpc.SessionCreated, error) {
	f.createCalls++
	return f.createResp, f.createErr
}

func (f *fakeDirectory) ListSessions(ctx context.Context) ([]rpc.SessionRow, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listResp, nil
}

func (f *fakeDirectory) RenameSession(ctx context.Context, id rpc.ID, name string) (rpc.SessionRow, error) {
	f.renamedID, f.renamedName = id, name
	if f.renameErr != nil {
		return rpc.SessionRow{}, f.renameErr
	}
	return rpc.SessionRow{ID: id, Name: name}, nil
}

func (f *fakeDirectory) DeleteSession(ctx context.Context, id rpc.ID) (rpc.SessionDeleted, error) {
	f.deletedID = id
	if f.deleteErr != nil {
		return rpc.SessionDeleted{}, f.deleteErr
	}
	return rpc.SessionDeleted{OK: true, DeletedSessionID: id}, nil
}

func (f *fakeDirectory) History(ctx context.Context, id rpc.ID) (rpc.History, error) {
	f.histCalls++
	if f.histErr != nil {
		return rpc.History{}, f.histErr
	}
	if h, ok := f.histories[id.String()]; ok {
		return h, nil
	}
	return rpc.History{}, &rpc.APIError{Status: 404, Detail: "Session not found"}
}

func newSessionFixture(t *testing.T, api directoryAPI) (*SessionStore, *StateStore) {
	t.Helper()
	state := NewStateStore(t.TempDir())
	t.Cleanup(func() { _ = state.Close() })
	return NewSessionStore(api, state, logging.NewNop()), state
}

func TestRestoreOrCreateFresh(t *testing.T) {
	fake := &fakeDirectory{createResp: rpc.SessionCreated{SessionID: rpc.IDFromInt(10)}}
	store, state := newSessionFixture(t, fake)

	id, transcript, err := store.RestoreOrCreate(context.Background())
	if err != nil {
		t.Fatalf("RestoreOrCreate: %v", err)
	}
	if !id.Equal(rpc.IDFromInt(10)) {
		t.Errorf("id = %v, want 10", id)
	}
	if len(transcript) != 0 {
		t.Errorf("transcript = %v, want empty", transcript)
	}
	if fake.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1", fake.createCalls)
	}
	persisted, err := state.ActiveSession()
	if err != nil {
		t.Fatalf("ActiveSession: %v", err)
	}
	if !persisted.Equal(rpc.IDFromInt(10)) {
		t.Errorf("persisted = %v, want 10", persisted)
	}
}

func TestRestoreOrCreateRestores(t *testing.T) {
	fake := &fakeDirectory{
		histories: map[string]rpc.History{
			"5": {SessionID: rpc.IDFromInt(5), Messages: []rpc.WireMessage{
				{ID: rpc.IDFromInt(1), Role: "user", Content: "hello"},
				{ID: rpc.IDFromInt(2), Role: "assistant", Content: "hi"},
			}},
		},
	}
	store, state := newSessionFixture(t, fake)
	if err := state.SetActiveSession(rpc.IDFromInt(5)); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	id, transcript, err := store.RestoreOrCreate(context.Background())
	if err != nil {
		t.Fatalf("RestoreOrCreate: %v", err)
	}
	if !id.Equal(rpc.IDFromInt(5)) {
		t.Errorf("id = %v, want 5", id)
	}
	if len(transcript) != 2 {
		t.Fatalf("transcript len = %d, want 2", len(transcript))
	}
	if fake.createCalls != 0 {
		t.Errorf("createCalls = %d, want 0", fake.createCalls)
	}
}

func TestRestoreOrCreateDiscardsStaleID(t *testing.T) {
	fake := &fakeDirectory{
		createResp: rpc.SessionCreated{SessionID: rpc.IDFromInt(10)},
		histories: map[string]rpc.History{
			"10": {SessionID: rpc.IDFromInt(10)},
		},
	}
	store, state := newSessionFixture(t, fake)
	if err := state.SetActiveSession(rpc.IDFromInt(9)); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	id, _, err := store.RestoreOrCreate(context.Background())
	if err != nil {
		t.Fatalf("RestoreOrCreate: %v", err)
	}
	if !id.Equal(rpc.IDFromInt(10)) {
		t.Errorf("id = %v, want fresh session 10", id)
	}
	if fake.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1", fake.createCalls)
	}
	persisted, _ := state.ActiveSession()
	if !persisted.Equal(rpc.IDFromInt(10)) {
		t.Errorf("persisted = %v, want 10", persisted)
	}
}

func TestSwitchToReplacesTranscript(t *testing.T) {
	fake := &fakeDirectory{
		histories: map[string]rpc.History{
			"1": {Messages: []rpc.WireMessage{
				{ID: rpc.IDFromInt(1), Role: "user", Content: "first"},
				{ID: rpc.IDFromInt(2), Role: "assistant", Content: "reply"},
			}},
			"2": {Messages: []rpc.WireMessage{
				{ID: rpc.IDFromInt(7), Role: "tool", Content: "other session"},
			}},
		},
	}
	store, _ := newSessionFixture(t, fake)

	if err := store.SwitchTo(context.Background(), rpc.IDFromInt(1)); err != nil {
		t.Fatalf("SwitchTo(1): %v", err)
	}
	store.appendMessage(Message{Role: RoleUser, Content: "draft in flight"})

	if err := store.SwitchTo(context.Background(), rpc.IDFromInt(2)); err != nil {
		t.Fatalf("SwitchTo(2): %v", err)
	}
	transcript := store.Transcript()
	if len(transcript) != 1 {
		t.Fatalf("transcript = %+v, want exactly the server list", transcript)
	}
	if transcript[0].Content != "other session" {
		t.Errorf("content = %q", transcript[0].Content)
	}
	if transcript[0].Role != RoleAssistant {
		t.Errorf("role %q should display as assistant", transcript[0].Role)
	}
}

func TestSwitchToFailureKeepsState(t *testing.T) {
	fake := &fakeDirectory{
		histories: map[string]rpc.History{
			"1": {Messages: []rpc.WireMessage{
				{ID: rpc.IDFromInt(1), Role: "user", Content: "kept"},
			}},
		},
	}
	store, _ := newSessionFixture(t, fake)
	if err := store.SwitchTo(context.Background(), rpc.IDFromInt(1)); err != nil {
		t.Fatalf("SwitchTo(1): %v", err)
	}

	if err := store.SwitchTo(context.Background(), rpc.IDFromInt(99)); err == nil {
		t.Fatal("expected failure for unknown session")
	}
	if !store.Active().Equal(rpc.IDFromInt(1)) {
		t.Errorf("active = %v, want 1", store.Active())
	}
	if got := store.Transcript(); len(got) != 1 || got[0].Content != "kept" {
		t.Errorf("transcript changed: %+v", got)
	}
}

func TestRemoveActiveSessionClearsPointer(t *testing.T) {
	fake := &fakeDirectory{
		histories: map[string]rpc.History{"3": {}},
	}
	store, state := newSessionFixture(t, fake)
	if err := store.SwitchTo(context.Background(), rpc.IDFromInt(3)); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}

	if err := store.Remove(context.Background(), rpc.IDFromInt(3)); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if store.Active().Valid() {
		t.Error("active pointer should be cleared, not auto-selected")
	}
	if len(store.Transcript()) != 0 {
		t.Error("transcript should be cleared")
	}
	persisted, _ := state.ActiveSession()
	if persisted.Valid() {
		t.Errorf("persisted pointer should be cleared, got %v", persisted)
	}
}

func TestRemoveOtherSessionKeepsActive(t *testing.T) {
	fake := &fakeDirectory{
		histories: map[string]rpc.History{"3": {}},
	}
	store, _ := newSessionFixture(t, fake)
	if err := store.SwitchTo(context.Background(), rpc.IDFromInt(3)); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}

	if err := store.Remove(context.Background(), rpc.IDFromInt(8)); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !store.Active().Equal(rpc.IDFromInt(3)) {
		t.Errorf("active = %v, want 3", store.Active())
	}
}

func TestListAllFailsSoft(t *testing.T) {
	fake := &fakeDirectory{
		listResp: []rpc.SessionRow{
			{ID: rpc.IDFromInt(1), Name: "New Chat"},
			{ID: rpc.IDFromInt(2), Name: "Planning"},
		},
	}
	store, _ := newSessionFixture(t, fake)

	if err := store.ListAll(context.Background()); err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if got := len(store.Directory()); got != 2 {
		t.Fatalf("directory len = %d, want 2", got)
	}

	fake.listErr = errors.New("connection refused")
	if err := store.ListAll(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if got := len(store.Directory()); got != 2 {
		t.Errorf("directory len after failure = %d, want prior list retained", got)
	}
}

func TestRenameRefetchesDirectory(t *testing.T) {
	fake := &fakeDirectory{}
	store, _ := newSessionFixture(t, fake)

	before := fake.listCalls
	if err := store.Rename(context.Background(), rpc.IDFromInt(4), "Renamed"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if fake.renamedName != "Renamed" || !fake.renamedID.Equal(rpc.IDFromInt(4)) {
		t.Errorf("rename call = (%v, %q)", fake.renamedID, fake.renamedName)
	}
	if fake.listCalls != before+1 {
		t.Errorf("listCalls = %d, want %d", fake.listCalls, before+1)
	}
}

func TestRenameFailurePropagates(t *testing.T) {
	fake := &fakeDirectory{renameErr: &rpc.APIError{Status: 404, Detail: "Session not found"}}
	store, _ := newSessionFixture(t, fake)

	err := store.Rename(context.Background(), rpc.IDFromInt(4), "x")
	if !rpc.IsNotFound(err) {
		t.Fatalf("err = %v, want 404", err)
	}
}
