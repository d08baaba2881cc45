package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/dolmetscher/internal/config"
	"github.com/MrWong99/dolmetscher/internal/session"
	"github.com/MrWong99/dolmetscher/pkg/audio"
	"github.com/MrWong99/dolmetscher/pkg/provider/s2s"
)

// ErrNoActiveSession is returned by [SessionManager.Stop] when nothing was
// started.
var ErrNoActiveSession = errors.New("app: no active translation session")

// Controller is the part of the session coordinator the manager drives.
type Controller interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Reconfigure(ctx context.Context, cfg s2s.SessionConfig) error
	SetPipelineConfig(ctx context.Context, cfg audio.PipelineConfig) error
	SwitchProvider(ctx context.Context, p s2s.Provider, cfg s2s.SessionConfig) error
	Status() session.Status
}

// SessionInfo holds metadata about the user's translation session.
type SessionInfo struct {
	// SessionID identifies one Start..Stop span. Reconnects keep it.
	SessionID string `json:"session_id"`

	Provider       string    `json:"provider"`
	SourceLanguage string    `json:"source_language,omitempty"`
	TargetLanguage string    `json:"target_language,omitempty"`
	LowLatency     bool      `json:"low_latency"`
	StartedAt      time.Time `json:"started_at"`
}

// SessionManager tracks the user's intent to translate and applies config
// changes to the coordinator. Only one session is active at a time. All
// exported methods are safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	ctrl     Controller
	registry *config.Registry
	cfg      *config.Config
	active   bool
	info     SessionInfo
}

// NewSessionManager returns a manager driving ctrl with cfg as the current
// configuration.
func NewSessionManager(ctrl Controller, registry *config.Registry, cfg *config.Config) *SessionManager {
	return &SessionManager{ctrl: ctrl, registry: registry, cfg: cfg}
}

// Start connects the coordinator and opens a new translation session.
//
// Returns an error if a session is already active. A session whose
// coordinator ended in error or was wound down counts as inactive, so Start
// is the explicit retry after a failed acquisition.
func (sm *SessionManager) Start(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active {
		st := sm.ctrl.Status()
		if st.State != session.StateError && st.State != session.StateDisconnected {
			return fmt.Errorf("app: a session is already active (id=%s)", sm.info.SessionID)
		}
		slog.Info("replacing ended translation session", "session_id", sm.info.SessionID, "state", st.State, "err", st.Err)
	}
	if err := sm.ctrl.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect: %w", err)
	}

	sm.active = true
	sm.info = sm.describe(uuid.NewString(), time.Now().UTC())

	slog.Info("translation session started",
		"session_id", sm.info.SessionID,
		"provider", sm.info.Provider,
		"source", sm.info.SourceLanguage,
		"target", sm.info.TargetLanguage,
		"low_latency", sm.info.LowLatency,
	)
	return nil
}

// Stop disconnects and releases the pipeline.
//
// Returns [ErrNoActiveSession] if no session is active.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.active {
		return ErrNoActiveSession
	}
	if err := sm.ctrl.Disconnect(ctx); err != nil {
		return fmt.Errorf("app: disconnect: %w", err)
	}

	id, started := sm.info.SessionID, sm.info.StartedAt
	sm.active = false
	sm.info = SessionInfo{}

	slog.Info("translation session stopped", "session_id", id, "duration", time.Since(started).Round(time.Second))
	return nil
}

// IsActive reports whether a session is currently started.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Info returns metadata about the active session.
// Returns zero value if no session is active.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}

// Apply pushes the changes in diff to the coordinator and makes next the
// current config. A provider switch carries the new session parameters, so
// SessionChanged is ignored when ProviderChanged is set.
func (sm *SessionManager) Apply(ctx context.Context, diff config.ConfigDiff, next *config.Config) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var errs []error
	switch {
	case diff.ProviderChanged:
		entry, ok := next.SelectedProvider()
		if !ok {
			errs = append(errs, errors.New("app: switch provider: no provider selected"))
			break
		}
		p, err := sm.registry.Create(entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("app: switch provider: %w", err))
			break
		}
		if err := sm.ctrl.SwitchProvider(ctx, p, next.S2SConfig()); err != nil {
			errs = append(errs, fmt.Errorf("app: switch provider: %w", err))
		}
	case diff.SessionChanged:
		if err := sm.ctrl.Reconfigure(ctx, next.S2SConfig()); err != nil {
			errs = append(errs, fmt.Errorf("app: reconfigure session: %w", err))
		}
	}

	if diff.PipelineChanged {
		if err := sm.ctrl.SetPipelineConfig(ctx, next.PipelineConfig()); err != nil {
			errs = append(errs, fmt.Errorf("app: set pipeline config: %w", err))
		}
	}

	sm.cfg = next
	if sm.active {
		sm.info = sm.describe(sm.info.SessionID, sm.info.StartedAt)
	}
	return errors.Join(errs...)
}

func (sm *SessionManager) describe(id string, started time.Time) SessionInfo {
	entry, _ := sm.cfg.SelectedProvider()
	return SessionInfo{
		SessionID:      id,
		Provider:       entry.Name,
		SourceLanguage: sm.cfg.Session.SourceLanguage,
		TargetLanguage: sm.cfg.Session.TargetLanguage,
		LowLatency:     sm.cfg.Session.LowLatency,
		StartedAt:      started,
	}
}
