package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"chatloom/internal/logging"
	"chatloom/internal/rpc"
)

// maxInputChars mirrors the server's input cap so oversized messages
// fail locally instead of burning a request.
const maxInputChars = 20000

// chatAPI is the slice of the RPC surface the reconciler needs.
type chatAPI interface {
	Chat(ctx context.Context, req rpc.ChatRequest) (rpc.ChatEnvelope, error)
	EditMessage(ctx context.Context, id rpc.ID, content string) (rpc.ChatEnvelope, error)
	ContinueChat(ctx context.Context, sessionID rpc.ID) (rpc.ChatEnvelope, error)
	History(ctx context.Context, id rpc.ID) (rpc.History, error)
}

// OutcomeKind tags the resolved chat response variant.
type OutcomeKind int

const (
	OutcomeEmpty OutcomeKind = iota
	OutcomeReply
	OutcomeBatch
)

// ChatOutcome is a chat envelope resolved into exactly one variant.
// Echoes carries user turns the server repeated back; those never
// display twice, they only confirm pending entries.
type ChatOutcome struct {
	Kind   OutcomeKind
	Reply  Message
	Batch  []Message
	Echoes []Message
}

// resolveOutcome collapses the polymorphic wire envelope once, at the
// reconciliation boundary.
func resolveOutcome(env rpc.ChatEnvelope) ChatOutcome {
	if env.Reply != nil {
		return ChatOutcome{Kind: OutcomeReply, Reply: messageFromWire(*env.Reply)}
	}
	if len(env.Messages) == 0 {
		return ChatOutcome{Kind: OutcomeEmpty}
	}
	out := ChatOutcome{Kind: OutcomeBatch}
	for _, w := range env.Messages {
		m := messageFromWire(w)
		if w.Role == string(RoleUser) {
			out.Echoes = append(out.Echoes, m)
			continue
		}
		out.Batch = append(out.Batch, m)
	}
	return out
}

// SyncStatus reports how far a mutating operation got.
type SyncStatus int

const (
	// StatusConfirmed means the remote call succeeded and its result is
	// merged into the transcript.
	StatusConfirmed SyncStatus = iota
	// StatusLocalOnly means the optimistic change is kept but the
	// remote call failed. Nothing rolls back.
	StatusLocalOnly
)

// SyncResult makes the no-rollback policy explicit: callers always
// learn whether state is confirmed remotely or applied locally only.
type SyncResult struct {
	Status SyncStatus
	Err    error // set when Status is StatusLocalOnly
}

func confirmed() SyncResult { return SyncResult{Status: StatusConfirmed} }

func localOnly(err error) SyncResult { return SyncResult{Status: StatusLocalOnly, Err: err} }

// Confirmed reports whether the remote merge happened.
func (sr SyncResult) Confirmed() bool { return sr.Status == StatusConfirmed }

// Reconciler merges authoritative server responses into the optimistic
// transcript. One instance serves one SessionStore. Each logical action
// carries its own in-flight guard; unrelated actions never block each
// other.
type Reconciler struct {
	api      chatAPI
	sessions *SessionStore
	log      *logging.Logger

	model     string
	maxTokens int

	sending    atomic.Bool
	editing    atomic.Bool
	continuing atomic.Bool
}

func NewReconciler(api chatAPI, sessions *SessionStore, cfg Config, log *logging.Logger) *Reconciler {
	if log == nil {
		log = logging.NewNop()
	}
	return &Reconciler{
		api:       api,
		sessions:  sessions,
		log:       log,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

// Sending reports whether a send is in flight.
func (r *Reconciler) Sending() bool { return r.sending.Load() }

// Editing reports whether an edit is in flight.
func (r *Reconciler) Editing() bool { return r.editing.Load() }

// Continuing reports whether a continue is in flight.
func (r *Reconciler) Continuing() bool { return r.continuing.Load() }

// Send submits one user turn. The entry appears immediately and is
// never rolled back; delivery failure appends a system notice after it
// instead. The returned error covers only local gating, before any
// state change.
func (r *Reconciler) Send(ctx context.Context, content string) (SyncResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return SyncResult{}, errors.New("empty message")
	}
	if utf8.RuneCountInString(content) > maxInputChars {
		return SyncResult{}, ErrInputTooLong
	}
	session := r.sessions.Active()
	if !session.Valid() {
		return SyncResult{}, ErrNoSession
	}
	if !r.sending.CompareAndSwap(false, true) {
		return SyncResult{}, ErrBusy
	}
	defer r.sending.Store(false)

	r.confirmDelivered(ctx, session)

	r.sessions.appendMessage(Message{Role: RoleUser, Content: content, SentAt: time.Now()})

	env, err := r.api.Chat(ctx, rpc.ChatRequest{
		Message:   content,
		SessionID: session,
		Model:     r.model,
		MaxTokens: r.maxTokens,
	})
	if err != nil {
		r.log.Warn("send failed", zap.String("session", session.String()), zap.Error(err))
		r.sessions.appendMessage(Message{
			Role:    RoleSystem,
			Content: sendFailureNotice(err),
			SentAt:  time.Now(),
		})
		return localOnly(err), nil
	}
	r.merge(resolveOutcome(env))
	return confirmed(), nil
}

// Edit rewrites a confirmed message and lets the server regenerate from
// it. The text replacement is optimistic and stays even when the remote
// call fails; only the failure is logged.
func (r *Reconciler) Edit(ctx context.Context, id rpc.ID, content string) (SyncResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return SyncResult{}, errors.New("empty message")
	}
	if utf8.RuneCountInString(content) > maxInputChars {
		return SyncResult{}, ErrInputTooLong
	}
	if !id.Valid() {
		return SyncResult{}, ErrPendingMessage
	}
	if !r.editing.CompareAndSwap(false, true) {
		return SyncResult{}, ErrBusy
	}
	defer r.editing.Store(false)

	if !r.sessions.setContent(id, content) {
		return SyncResult{}, fmt.Errorf("message %s not in transcript", id.String())
	}
	env, err := r.api.EditMessage(ctx, id, content)
	if err != nil {
		r.log.Warn("edit not confirmed",
			zap.String("message", id.String()), zap.Error(err))
		return localOnly(err), nil
	}
	r.merge(resolveOutcome(env))
	return confirmed(), nil
}

// Continue asks for another assistant turn without new user input.
// No optimistic change; failure only logs.
func (r *Reconciler) Continue(ctx context.Context) (SyncResult, error) {
	session := r.sessions.Active()
	if !session.Valid() {
		return SyncResult{}, ErrNoSession
	}
	if !r.continuing.CompareAndSwap(false, true) {
		return SyncResult{}, ErrBusy
	}
	defer r.continuing.Store(false)

	env, err := r.api.ContinueChat(ctx, session)
	if err != nil {
		r.log.Warn("continue failed", zap.String("session", session.String()), zap.Error(err))
		return localOnly(err), nil
	}
	r.merge(resolveOutcome(env))
	return confirmed(), nil
}

// Refresh re-pulls the active session's transcript. Full replace, last
// refresh wins.
func (r *Reconciler) Refresh(ctx context.Context) error {
	session := r.sessions.Active()
	if !session.Valid() {
		return ErrNoSession
	}
	return r.sessions.SwitchTo(ctx, session)
}

// merge applies a resolved outcome to the transcript.
func (r *Reconciler) merge(out ChatOutcome) {
	for _, echo := range out.Echoes {
		r.sessions.adoptID(RoleUser, echo.Content, echo.ID)
	}
	switch out.Kind {
	case OutcomeReply:
		r.sessions.appendMessage(out.Reply)
	case OutcomeBatch:
		for _, m := range out.Batch {
			r.sessions.appendMessage(m)
		}
	}
}

// confirmDelivered backfills server ids onto user entries from earlier
// successful sends. The single-reply response shape does not echo the
// stored user turn's id, so the transcript picks it up from history at
// the next send; that keeps at most one user entry pending at a time.
// Turns the server never stored match nothing and stay local-only.
func (r *Reconciler) confirmDelivered(ctx context.Context, session rpc.ID) {
	if !r.sessions.hasPendingUser() {
		return
	}
	hist, err := r.api.History(ctx, session)
	if err != nil {
		r.log.Debug("pending confirmation skipped", zap.Error(err))
		return
	}
	for _, w := range hist.Messages {
		if w.Role != string(RoleUser) || !w.ID.Valid() {
			continue
		}
		if r.sessions.hasMessage(w.ID) {
			continue
		}
		r.sessions.adoptID(RoleUser, w.Content, w.ID)
	}
}

func sendFailureNotice(err error) string {
	if rpc.IsRateLimited(err) {
		return "Rate limit reached (20 requests/minute). Your message is kept locally; try again shortly."
	}
	return fmt.Sprintf("Delivery failed: %v. Your message is kept locally.", err)
}
