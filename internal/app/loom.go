package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"chatloom/internal/logging"
	"chatloom/internal/rpc"
)

// Application bundles the engine behind one construction path. The TUI
// and the headless subcommands both run on top of it.
type Application struct {
	Config    Config
	Client    *rpc.Client
	State     *StateStore
	Sessions  *SessionStore
	Chat      *Reconciler
	Knowledge *KnowledgeStore
	Log       *logging.Logger
}

// NewApplication wires the stores from configuration.
func NewApplication(cfg Config, log *logging.Logger) *Application {
	if log == nil {
		log = logging.NewNop()
	}
	retries := cfg.Retries
	if retries == 0 {
		retries = -1
	}
	client := rpc.New(rpc.Options{
		BaseURL:   cfg.ServerURL,
		Timeout:   cfg.Timeout(),
		RetryMax:  retries,
		PerMinute: cfg.RateLimitPerMinute,
		Logger:    log,
	})
	state := NewStateStore(cfg.StateDir)
	sessions := NewSessionStore(client, state, log)

	return &Application{
		Config:    cfg,
		Client:    client,
		State:     state,
		Sessions:  sessions,
		Chat:      NewReconciler(client, sessions, cfg, log),
		Knowledge: NewKnowledgeStore(client, log),
		Log:       log,
	}
}

// Bootstrap probes the service, restores or creates the active session,
// and warms the knowledge collections. Only session restoration is
// required; everything else degrades soft.
func (a *Application) Bootstrap(ctx context.Context) error {
	a.Log.Info("connecting", zap.String("server", SafeServerURL(a.Config.ServerURL)))
	if _, err := a.Client.Health(ctx); err != nil {
		a.Log.Warn("service health probe failed", zap.Error(err))
	}
	if _, _, err := a.Sessions.RestoreOrCreate(ctx); err != nil {
		return fmt.Errorf("bootstrap session: %w", err)
	}
	a.Knowledge.RefreshAll(ctx)
	return nil
}

// Close releases local resources.
func (a *Application) Close() error {
	return a.State.Close()
}
