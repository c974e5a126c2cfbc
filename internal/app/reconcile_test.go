package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"chatloom/internal/logging"
	"chatloom/internal/rpc"
)

type fakeChat struct {
	mu sync.Mutex

	chatResp  rpc.ChatEnvelope
	chatErr   error
	chatCalls int
	lastChat  rpc.ChatRequest
	block     chan struct{}

	editResp        rpc.ChatEnvelope
	editErr         error
	editCalls       int
	lastEditID      rpc.ID
	lastEditContent string

	contResp  rpc.ChatEnvelope
	contErr   error
	contCalls int

	histResp rpc.History
	histErr  error
}

func (f *fakeChat) Chat(ctx context.Context, req rpc.ChatRequest) (rpc.ChatEnvelope, error) {
	f.mu.Lock()
	f.chatCalls++
	f.lastChat = req
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.chatResp, f.chatErr
}

func (f *fakeChat) EditMessage(ctx context.Context, id rpc.ID, content string) (rpc.ChatEnvelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editCalls++
	f.lastEditID, f.lastEditContent = id, content
	return f.editResp, f.editErr
}

func (f *fakeChat) ContinueChat(ctx context.Context, sessionID rpc.ID) (rpc.ChatEnvelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contCalls++
	return f.contResp, f.contErr
}

func (f *fakeChat) History(ctx context.Context, id rpc.ID) (rpc.History, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.histResp, f.histErr
}

// newChatFixture returns a reconciler over a store with session 3 active
// and the given server-side transcript.
func newChatFixture(t *testing.T, fc *fakeChat, seed []rpc.WireMessage) (*Reconciler, *SessionStore) {
	t.Helper()
	dir := &fakeDirectory{histories: map[string]rpc.History{
		"3": {SessionID: rpc.IDFromInt(3), Messages: seed},
	}}
	store, _ := newSessionFixture(t, dir)
	if err := store.SwitchTo(context.Background(), rpc.IDFromInt(3)); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}
	return NewReconciler(fc, store, DefaultConfig(), logging.NewNop()), store
}

func reply(id int64, content string) rpc.ChatEnvelope {
	return rpc.ChatEnvelope{Reply: &rpc.WireMessage{
		ID: rpc.IDFromInt(id), Role: "assistant", Content: content,
	}}
}

func TestSendSingleReply(t *testing.T) {
	fc := &fakeChat{chatResp: reply(7, "hi")}
	rec, store := newChatFixture(t, fc, nil)

	res, err := rec.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !res.Confirmed() {
		t.Errorf("status = %v, want confirmed", res.Status)
	}

	tr := store.Transcript()
	if len(tr) != 2 {
		t.Fatalf("transcript = %+v, want 2 entries", tr)
	}
	if tr[0].Role != RoleUser || tr[0].Content != "hello" || !tr[0].Pending() {
		t.Errorf("user entry = %+v, want pending user \"hello\"", tr[0])
	}
	if tr[1].Role != RoleAssistant || tr[1].Content != "hi" || !tr[1].ID.Equal(rpc.IDFromInt(7)) {
		t.Errorf("assistant entry = %+v, want id 7 \"hi\"", tr[1])
	}

	if fc.lastChat.Message != "hello" || !fc.lastChat.SessionID.Equal(rpc.IDFromInt(3)) {
		t.Errorf("request = %+v", fc.lastChat)
	}
	if fc.lastChat.Model == "" || fc.lastChat.MaxTokens == 0 {
		t.Errorf("request missing model defaults: %+v", fc.lastChat)
	}
}

func TestSendFailureKeepsOptimisticEntry(t *testing.T) {
	fc := &fakeChat{chatErr: errors.New("connection reset")}
	rec, store := newChatFixture(t, fc, nil)

	res, err := rec.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Status != StatusLocalOnly || res.Err == nil {
		t.Errorf("result = %+v, want local-only with error", res)
	}

	tr := store.Transcript()
	if len(tr) != 2 {
		t.Fatalf("transcript = %+v, want retained user + system notice", tr)
	}
	if tr[0].Role != RoleUser || tr[0].Content != "hello" {
		t.Errorf("optimistic entry rolled back: %+v", tr[0])
	}
	if tr[1].Role != RoleSystem || !strings.Contains(tr[1].Content, "kept locally") {
		t.Errorf("system notice = %+v", tr[1])
	}
}

func TestSendRateLimitNotice(t *testing.T) {
	fc := &fakeChat{chatErr: &rpc.APIError{Status: 429, Detail: "Rate limit exceeded (20 requests/minute)."}}
	rec, store := newChatFixture(t, fc, nil)

	if _, err := rec.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	tr := store.Transcript()
	if !strings.Contains(tr[len(tr)-1].Content, "Rate limit") {
		t.Errorf("notice = %q", tr[len(tr)-1].Content)
	}
}

func TestSendBatchFiltersEchoedUserTurn(t *testing.T) {
	fc := &fakeChat{chatResp: rpc.ChatEnvelope{Messages: []rpc.WireMessage{
		{ID: rpc.IDFromInt(4), Role: "user", Content: "do it"},
		{ID: rpc.IDFromInt(5), Role: "assistant", Content: "step one"},
		{ID: rpc.IDFromInt(6), Role: "tool", Content: "step two"},
	}}}
	rec, store := newChatFixture(t, fc, nil)

	if _, err := rec.Send(context.Background(), "do it"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	tr := store.Transcript()
	if len(tr) != 3 {
		t.Fatalf("transcript = %+v, want 3 entries (echo not duplicated)", tr)
	}
	if tr[0].Role != RoleUser || !tr[0].ID.Equal(rpc.IDFromInt(4)) {
		t.Errorf("echo should confirm the optimistic entry: %+v", tr[0])
	}
	if tr[1].Content != "step one" || tr[2].Content != "step two" {
		t.Errorf("batch entries = %+v", tr[1:])
	}
	if tr[2].Role != RoleAssistant {
		t.Errorf("non-user role should display as assistant: %+v", tr[2])
	}
}

// After any prefix of successful sends the transcript holds at most one
// entry without a server id, and it is the most recent user turn.
func TestSuccessfulSendsKeepOnePending(t *testing.T) {
	fc := &fakeChat{}
	rec, store := newChatFixture(t, fc, nil)

	checkInvariant := func(step string) {
		t.Helper()
		tr := store.Transcript()
		pending := -1
		for i, m := range tr {
			if !m.Pending() {
				continue
			}
			if pending != -1 {
				t.Fatalf("%s: multiple pending entries in %+v", step, tr)
			}
			pending = i
		}
		if pending == -1 {
			return
		}
		if tr[pending].Role != RoleUser {
			t.Fatalf("%s: pending entry is %v, want user", step, tr[pending].Role)
		}
		for i := pending + 1; i < len(tr); i++ {
			if tr[i].Role == RoleUser {
				t.Fatalf("%s: pending entry is not the most recent user turn", step)
			}
		}
	}

	fc.chatResp = reply(2, "ack one")
	if _, err := rec.Send(context.Background(), "one"); err != nil {
		t.Fatalf("send one: %v", err)
	}
	checkInvariant("after send one")

	// The server has stored both turns; the next send backfills the id.
	fc.mu.Lock()
	fc.histResp = rpc.History{Messages: []rpc.WireMessage{
		{ID: rpc.IDFromInt(1), Role: "user", Content: "one"},
		{ID: rpc.IDFromInt(2), Role: "assistant", Content: "ack one"},
	}}
	fc.chatResp = reply(4, "ack two")
	fc.mu.Unlock()
	if _, err := rec.Send(context.Background(), "two"); err != nil {
		t.Fatalf("send two: %v", err)
	}
	checkInvariant("after send two")

	tr := store.Transcript()
	if !tr[0].ID.Equal(rpc.IDFromInt(1)) {
		t.Errorf("first user turn not confirmed: %+v", tr[0])
	}
	if !tr[len(tr)-2].Pending() {
		t.Errorf("latest user turn should still be pending: %+v", tr[len(tr)-2])
	}
}

func TestEditReplacesContentOnly(t *testing.T) {
	seed := []rpc.WireMessage{
		{ID: rpc.IDFromInt(6), Role: "user", Content: "question"},
		{ID: rpc.IDFromInt(7), Role: "assistant", Content: "hi"},
	}
	fc := &fakeChat{} // empty envelope: no regenerated reply
	rec, store := newChatFixture(t, fc, seed)

	res, err := rec.Edit(context.Background(), rpc.IDFromInt(7), "hi there")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if !res.Confirmed() {
		t.Errorf("status = %v", res.Status)
	}

	tr := store.Transcript()
	if len(tr) != 2 {
		t.Fatalf("no new message should be appended without a reply: %+v", tr)
	}
	if tr[1].Content != "hi there" || !tr[1].ID.Equal(rpc.IDFromInt(7)) {
		t.Errorf("edited entry = %+v", tr[1])
	}
	if tr[0].Content != "question" || !tr[0].ID.Equal(rpc.IDFromInt(6)) {
		t.Errorf("sibling entry disturbed: %+v", tr[0])
	}
	if fc.lastEditContent != "hi there" {
		t.Errorf("remote edit carried %q", fc.lastEditContent)
	}
}

func TestEditAppendsRegeneratedReply(t *testing.T) {
	seed := []rpc.WireMessage{
		{ID: rpc.IDFromInt(6), Role: "user", Content: "question"},
	}
	fc := &fakeChat{editResp: reply(9, "regenerated")}
	rec, store := newChatFixture(t, fc, seed)

	if _, err := rec.Edit(context.Background(), rpc.IDFromInt(6), "better question"); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	tr := store.Transcript()
	if len(tr) != 2 {
		t.Fatalf("transcript = %+v, want appended reply", tr)
	}
	if tr[1].Content != "regenerated" || !tr[1].ID.Equal(rpc.IDFromInt(9)) {
		t.Errorf("appended = %+v", tr[1])
	}
}

func TestEditPendingMessageRejected(t *testing.T) {
	fc := &fakeChat{}
	rec, _ := newChatFixture(t, fc, nil)

	_, err := rec.Edit(context.Background(), rpc.ID{}, "x")
	if !errors.Is(err, ErrPendingMessage) {
		t.Fatalf("err = %v, want ErrPendingMessage", err)
	}
	if fc.editCalls != 0 {
		t.Errorf("remote edit issued for pending message")
	}
}

func TestEditUnknownMessageRejected(t *testing.T) {
	fc := &fakeChat{}
	rec, _ := newChatFixture(t, fc, nil)

	if _, err := rec.Edit(context.Background(), rpc.IDFromInt(99), "x"); err == nil {
		t.Fatal("expected error for message missing from transcript")
	}
	if fc.editCalls != 0 {
		t.Errorf("remote edit issued for unknown message")
	}
}

func TestEditFailureKeepsOptimisticText(t *testing.T) {
	seed := []rpc.WireMessage{
		{ID: rpc.IDFromInt(7), Role: "assistant", Content: "original"},
	}
	fc := &fakeChat{editErr: errors.New("boom")}
	rec, store := newChatFixture(t, fc, seed)

	res, err := rec.Edit(context.Background(), rpc.IDFromInt(7), "rewritten")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if res.Status != StatusLocalOnly {
		t.Errorf("status = %v, want local-only", res.Status)
	}
	tr := store.Transcript()
	if len(tr) != 1 {
		t.Fatalf("edit failure must not append anything: %+v", tr)
	}
	if tr[0].Content != "rewritten" {
		t.Errorf("optimistic text rolled back: %q", tr[0].Content)
	}
}

func TestContinueAppendsOneAssistantTurn(t *testing.T) {
	fc := &fakeChat{contResp: reply(8, "and another thing")}
	rec, store := newChatFixture(t, fc, nil)

	res, err := rec.Continue(context.Background())
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if !res.Confirmed() {
		t.Errorf("status = %v", res.Status)
	}
	tr := store.Transcript()
	if len(tr) != 1 || tr[0].Content != "and another thing" {
		t.Errorf("transcript = %+v", tr)
	}
}

func TestContinueFailureAppendsNothing(t *testing.T) {
	fc := &fakeChat{contErr: errors.New("boom")}
	rec, store := newChatFixture(t, fc, nil)

	res, err := rec.Continue(context.Background())
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if res.Status != StatusLocalOnly {
		t.Errorf("status = %v", res.Status)
	}
	if len(store.Transcript()) != 0 {
		t.Errorf("transcript = %+v, want empty", store.Transcript())
	}
}

func TestSendBusyGuard(t *testing.T) {
	fc := &fakeChat{chatResp: reply(2, "late"), block: make(chan struct{})}
	rec, _ := newChatFixture(t, fc, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = rec.Send(context.Background(), "first")
	}()

	for i := 0; i < 200 && !rec.Sending(); i++ {
		time.Sleep(time.Millisecond)
	}
	if !rec.Sending() {
		t.Fatal("first send never started")
	}

	if _, err := rec.Send(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}

	close(fc.block)
	<-done

	fc.mu.Lock()
	calls := fc.chatCalls
	fc.mu.Unlock()
	if calls != 1 {
		t.Errorf("chatCalls = %d, want 1", calls)
	}
}

func TestSendValidation(t *testing.T) {
	fc := &fakeChat{}
	rec, _ := newChatFixture(t, fc, nil)

	if _, err := rec.Send(context.Background(), "   "); err == nil {
		t.Error("empty message should be rejected")
	}
	if _, err := rec.Send(context.Background(), strings.Repeat("x", maxInputChars+1)); !errors.Is(err, ErrInputTooLong) {
		t.Errorf("err = %v, want ErrInputTooLong", err)
	}
	if fc.chatCalls != 0 {
		t.Errorf("invalid input reached the server: %d calls", fc.chatCalls)
	}
}

func TestSendWithoutSession(t *testing.T) {
	store, _ := newSessionFixture(t, &fakeDirectory{})
	rec := NewReconciler(&fakeChat{}, store, DefaultConfig(), logging.NewNop())

	if _, err := rec.Send(context.Background(), "hello"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}

func TestResolveOutcomeVariants(t *testing.T) {
	if out := resolveOutcome(rpc.ChatEnvelope{}); out.Kind != OutcomeEmpty {
		t.Errorf("empty envelope -> %v", out.Kind)
	}
	out := resolveOutcome(reply(1, "hi"))
	if out.Kind != OutcomeReply || out.Reply.Content != "hi" {
		t.Errorf("reply envelope -> %+v", out)
	}
	out = resolveOutcome(rpc.ChatEnvelope{Messages: []rpc.WireMessage{
		{ID: rpc.IDFromInt(1), Role: "user", Content: "echo"},
		{ID: rpc.IDFromInt(2), Role: "assistant", Content: "real"},
	}})
	if out.Kind != OutcomeBatch || len(out.Batch) != 1 || len(out.Echoes) != 1 {
		t.Errorf("batch envelope -> %+v", out)
	}
}
