// Package app wires the Dolmetscher subsystems into a running client.
//
// The App struct owns the full lifecycle: New builds the provider, the
// coordinator and the optional status server from the config, Run executes
// every long-lived loop in one errgroup, and Shutdown tears down what New
// created.
//
// For testing, inject fakes via functional options (WithDevices,
// WithMetrics). When an option is not provided, New falls back to the
// defaults noted on each option.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/dolmetscher/internal/config"
	"github.com/MrWong99/dolmetscher/internal/observe"
	"github.com/MrWong99/dolmetscher/internal/session"
	"github.com/MrWong99/dolmetscher/internal/transcript"
	"github.com/MrWong99/dolmetscher/pkg/audio"
)

const (
	// historyLimit bounds the finalized messages kept for /status.
	historyLimit = 200

	// reloadTimeout bounds how long a config reload may wait for the
	// coordinator loop.
	reloadTimeout = 5 * time.Second

	serverShutdownTimeout = 5 * time.Second
)

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry

	devices     audio.Devices
	metrics     *observe.Metrics
	levelVar    *slog.LevelVar
	configPath  string
	transcript  io.Writer
	autoConnect bool

	// Subsystems, initialised in New and torn down in Shutdown.
	history  *transcript.History
	coord    *session.Coordinator
	sessions *SessionManager
	watcher  *config.Watcher
	server   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithDevices injects the audio devices. Required; main passes the malgo/oto
// implementation and tests pass [mock.Devices].
func WithDevices(d audio.Devices) Option {
	return func(a *App) { a.devices = d }
}

// WithMetrics injects the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level of the handler
// built around lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithConfigFile enables hot reload of the config file at path.
func WithConfigFile(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithTranscriptOutput prints every finalized message to w.
func WithTranscriptOutput(w io.Writer) Option {
	return func(a *App) { a.transcript = w }
}

// WithAutoConnect controls whether Run connects immediately. Default true.
func WithAutoConnect(on bool) Option {
	return func(a *App) { a.autoConnect = on }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. The registry must know the provider selected
// by cfg.
func New(cfg *config.Config, registry *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:         cfg,
		registry:    registry,
		autoConnect: true,
	}
	for _, o := range opts {
		o(a)
	}
	if a.devices == nil {
		return nil, errors.New("app: audio devices are required")
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.levelVar == nil {
		a.levelVar = new(slog.LevelVar)
	}
	a.levelVar.Set(cfg.Server.LogLevel.Level())

	// ── 1. Provider ─────────────────────────────────────────────────────
	entry, ok := cfg.SelectedProvider()
	if !ok {
		return nil, errors.New("app: no provider selected")
	}
	provider, err := registry.Create(entry)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// ── 2. Coordinator ──────────────────────────────────────────────────
	a.history = transcript.NewHistory(historyLimit)
	a.coord, err = session.New(session.Config{
		Provider:         provider,
		Devices:          a.devices,
		Pipeline:         cfg.PipelineConfig(),
		Session:          cfg.S2SConfig(),
		ReconnectBackoff: cfg.Timing.ReconnectBackoff,
		WatchdogInterval: cfg.Timing.WatchdogInterval,
		WatchdogTimeout:  cfg.Timing.WatchdogTimeout,
		Sink:             a.history,
		Metrics:          a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.sessions = NewSessionManager(a.coord, registry, cfg)

	// ── 3. Config watcher ───────────────────────────────────────────────
	if a.configPath != "" {
		a.watcher, err = config.NewWatcher(a.configPath, a.onConfigChange)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}

	// ── 4. Status server ────────────────────────────────────────────────
	if cfg.Server.StatusAddr != "" {
		a.server = &http.Server{
			Addr:              cfg.Server.StatusAddr,
			Handler:           observe.Middleware(a.metrics)(a.statusMux()),
			ReadHeaderTimeout: 5 * time.Second,
		}
		a.closers = append(a.closers, a.server.Close)
	}

	// Device backends holding a process-wide context release it last.
	if c, ok := a.devices.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	slog.Info("app initialised",
		"provider", provider.Name(),
		"status_addr", cfg.Server.StatusAddr,
		"hot_reload", a.watcher != nil,
	)
	return a, nil
}

// Coordinator returns the session coordinator.
func (a *App) Coordinator() *session.Coordinator { return a.coord }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// History returns the finalized transcript.
func (a *App) History() *transcript.History { return a.history }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run blocks until ctx is cancelled or a subsystem fails. Every loop runs in
// one errgroup so a failing loop stops the others.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	var msgs <-chan transcript.Message
	if a.transcript != nil {
		msgs = a.history.Subscribe(16)
	}

	g.Go(func() error { return a.coord.Run(gctx) })

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	if a.server != nil {
		g.Go(func() error {
			slog.Info("status server listening", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		a.logStatus(gctx)
		return nil
	})

	if msgs != nil {
		g.Go(func() error {
			printTranscript(gctx, a.transcript, msgs)
			return nil
		})
	}

	if a.autoConnect {
		g.Go(func() error {
			if err := a.sessions.Start(gctx); err != nil && gctx.Err() == nil {
				slog.Warn("auto-connect failed", "err", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// logStatus logs every connection state change until ctx is done.
func (a *App) logStatus(ctx context.Context) {
	ch, unsubscribe := a.coord.Subscribe()
	defer unsubscribe()

	var last session.ConnectionState = -1
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-ch:
			if st.State == last {
				continue
			}
			last = st.State
			if st.Err != "" {
				slog.Warn("connection state", "state", st.State, "provider", st.Provider, "err", st.Err)
				continue
			}
			slog.Info("connection state", "state", st.State, "provider", st.Provider)
		}
	}
}

func printTranscript(ctx context.Context, w io.Writer, msgs <-chan transcript.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-msgs:
			fmt.Fprintf(w, "%s [%s] %s\n", m.Timestamp.Format(time.TimeOnly), m.Role, m.Text)
		}
	}
}

// onConfigChange is called by the watcher with a validated new config.
func (a *App) onConfigChange(old, next *config.Config) {
	diff := config.Diff(old, next)
	if diff.Empty() {
		return
	}
	if diff.LogLevelChanged {
		a.levelVar.Set(diff.NewLogLevel.Level())
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	for _, field := range diff.RestartRequired {
		slog.Warn("config change requires a restart", "field", field)
	}

	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()
	if err := a.sessions.Apply(ctx, diff, next); err != nil {
		slog.Error("applying config change failed", "err", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases everything New created. Run must have returned or be
// about to return because its context was cancelled. Shutdown is idempotent
// and stops early when ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
