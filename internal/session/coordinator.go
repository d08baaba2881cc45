package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/dolmetscher/internal/observe"
	"github.com/MrWong99/dolmetscher/internal/resilience"
	"github.com/MrWong99/dolmetscher/internal/transcript"
	"github.com/MrWong99/dolmetscher/pkg/audio"
	"github.com/MrWong99/dolmetscher/pkg/audio/playback"
	"github.com/MrWong99/dolmetscher/pkg/provider/s2s"
)

// ErrStopped is returned by coordinator commands after [Coordinator.Run] has
// returned.
var ErrStopped = errors.New("session: coordinator stopped")

// inboxSize bounds the loop's input queue. Session events share it with
// commands; a full queue applies backpressure to the event pump.
const inboxSize = 64

// Reconnect causes reported to [Metrics.Reconnect].
const (
	CauseRemoteClose  = "remote_close"
	CauseWatchdog     = "watchdog"
	CausePipelineLost = "pipeline_lost"
	CauseOpenFailed   = "open_failed"
)

// Config configures a [Coordinator].
type Config struct {
	// Provider is the initially selected translation provider. Required.
	Provider s2s.Provider

	// Devices opens the microphone and speaker. Required.
	Devices audio.Devices

	// Pipeline describes the audio resource. TargetRate is overwritten with
	// the provider's input rate at every acquisition.
	Pipeline audio.PipelineConfig

	// Session is sent to the provider on every open.
	Session s2s.SessionConfig

	ReconnectBackoff time.Duration
	WatchdogInterval time.Duration
	WatchdogTimeout  time.Duration

	// Breaker tunes the circuit breaker on the send path.
	Breaker resilience.Config

	// Sink receives finalized transcript messages. May be nil.
	Sink transcript.Sink

	// Display receives every running-text update. It is called on the
	// event loop and must not block. May be nil.
	Display func(role transcript.Role, text string)

	// Metrics defaults to [NopMetrics].
	Metrics Metrics

	// Now overrides the clock used for liveness tracking.
	Now func() time.Time
}

// Coordinator owns the audio pipeline, the provider session, the playback
// scheduler and the transcript renderer. A single event loop started by
// [Coordinator.Run] serialises every state change; all other methods are
// safe for concurrent use.
type Coordinator struct {
	devices          audio.Devices
	metrics          Metrics
	now              func() time.Time
	watchdogInterval time.Duration

	inbox   chan any
	done    chan struct{}
	started atomic.Bool

	watchdog    *Watchdog
	reconnector *Reconnector
	sender      *sender
	renderer    *transcript.Renderer
	closers     sync.WaitGroup

	status      atomic.Pointer[Status]
	subMu       sync.Mutex
	subs        map[chan Status]struct{}
	pipelineRef atomic.Pointer[audio.Pipeline]

	// Owned by the event loop.
	ctx        context.Context
	snap       Snapshot
	provider   s2s.Provider
	sessCfg    s2s.SessionConfig
	pipeCfg    audio.PipelineConfig
	pipeline   *audio.Pipeline
	stopPipe   context.CancelFunc
	session    s2s.SessionHandle
	openCancel context.CancelFunc
	sched      *playback.Scheduler
	cause      string
	queue      []queued
	applying   bool
}

type queued struct {
	in  Input
	res any
}

// Loop messages.
type (
	command struct {
		build func(c *Coordinator) Input
		ack   chan struct{}
	}
	pipelineResult struct {
		gen uint64
		p   *audio.Pipeline
		err error
	}
	openResult struct {
		gen      uint64
		provider string
		h        s2s.SessionHandle
		err      error
		latency  time.Duration
	}
	sessionEvent struct {
		gen uint64
		ev  s2s.Event
	}
	pipelineLost struct{ p *audio.Pipeline }
	reconnectDue struct{ seq uint64 }
)

// New validates cfg and returns an idle Coordinator. Call [Coordinator.Run]
// to start it.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Provider == nil {
		return nil, errors.New("session: new coordinator: provider is required")
	}
	if cfg.Devices == nil {
		return nil, errors.New("session: new coordinator: devices are required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = DefaultWatchdogInterval
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "outbound-audio"
	}

	c := &Coordinator{
		devices:          cfg.Devices,
		metrics:          cfg.Metrics,
		now:              cfg.Now,
		watchdogInterval: cfg.WatchdogInterval,
		inbox:            make(chan any, inboxSize),
		done:             make(chan struct{}),
		watchdog:         NewWatchdog(cfg.WatchdogTimeout),
		sender:           newSender(resilience.New(cfg.Breaker), cfg.Metrics),
		subs:             make(map[chan Status]struct{}),
		provider:         cfg.Provider,
		sessCfg:          cfg.Session,
		pipeCfg:          cfg.Pipeline,
	}
	c.reconnector = NewReconnector(cfg.ReconnectBackoff, func(seq uint64) {
		c.deliver(reconnectDue{seq: seq})
	})
	var ropts []transcript.Option
	if cfg.Display != nil {
		ropts = append(ropts, transcript.WithDisplay(cfg.Display))
	}
	c.renderer = transcript.NewRenderer(cfg.Sink, ropts...)

	st := statusOf(c.snap, c.provider.Name())
	c.status.Store(&st)
	return c, nil
}

// Run executes the event loop until ctx is cancelled, then releases every
// resource and returns nil. Run may be called only once.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("session: coordinator already running")
	}
	c.ctx = ctx
	defer close(c.done)

	ticker := time.NewTicker(c.watchdogInterval)
	defer ticker.Stop()

	slog.Info("session coordinator started",
		"provider", c.provider.Name(),
		"reconnect_backoff", c.reconnector.Backoff(),
		"watchdog_interval", c.watchdogInterval,
		"watchdog_timeout", c.watchdog.Timeout(),
	)
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case msg := <-c.inbox:
			c.handle(msg)
		case <-ticker.C:
			c.checkWatchdog(c.now())
		}
	}
}

// Connect asks for a connection. It returns once the request is queued; the
// outcome is reported through [Coordinator.Status].
func (c *Coordinator) Connect(ctx context.Context) error {
	return c.command(ctx, func(*Coordinator) Input { return Connect{} })
}

// Disconnect releases the session and the pipeline and cancels any pending
// reconnect.
func (c *Coordinator) Disconnect(ctx context.Context) error {
	return c.command(ctx, func(c *Coordinator) Input {
		c.cancelOpen()
		return Disconnect{}
	})
}

// Reconfigure replaces the provider-side session parameters. A live session
// is updated in-band when the provider supports it and is otherwise
// reopened; the pipeline is never touched.
func (c *Coordinator) Reconfigure(ctx context.Context, cfg s2s.SessionConfig) error {
	return c.command(ctx, func(c *Coordinator) Input {
		if cfg == c.sessCfg {
			return nil
		}
		c.sessCfg = cfg
		return Reconfigure{Live: c.provider.Capabilities().LiveUpdate}
	})
}

// SetPipelineConfig replaces the audio parameters used by the next pipeline
// acquisition. The current pipeline is kept.
func (c *Coordinator) SetPipelineConfig(ctx context.Context, cfg audio.PipelineConfig) error {
	return c.command(ctx, func(c *Coordinator) Input {
		c.pipeCfg = cfg
		return nil
	})
}

// SwitchProvider tears everything down and, if the user was connected,
// connects again through p with cfg.
func (c *Coordinator) SwitchProvider(ctx context.Context, p s2s.Provider, cfg s2s.SessionConfig) error {
	if p == nil {
		return errors.New("session: switch provider: provider is nil")
	}
	return c.command(ctx, func(c *Coordinator) Input {
		c.cancelOpen()
		slog.Info("switching provider", "from", c.provider.Name(), "to", p.Name())
		c.provider = p
		c.sessCfg = cfg
		return SwitchProvider{}
	})
}

// Status returns the latest published status.
func (c *Coordinator) Status() Status { return *c.status.Load() }

// Subscribe returns a channel that receives the current status immediately
// and every later change. A slow reader only sees the latest status. Call
// the returned function to unsubscribe.
func (c *Coordinator) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)
	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	ch <- c.Status()
	c.subMu.Unlock()
	return ch, func() {
		c.subMu.Lock()
		delete(c.subs, ch)
		c.subMu.Unlock()
	}
}

// Display returns the running partial transcript of role.
func (c *Coordinator) Display(role transcript.Role) string { return c.renderer.Display(role) }

// InputLevel returns the RMS level of the last captured block, or zero
// without a pipeline.
func (c *Coordinator) InputLevel() float32 {
	if p := c.pipelineRef.Load(); p != nil {
		return p.Level()
	}
	return 0
}

// LastSeen returns when the current session last produced an event.
func (c *Coordinator) LastSeen() time.Time { return c.watchdog.LastSeen() }

func (c *Coordinator) command(ctx context.Context, build func(*Coordinator) Input) error {
	cmd := command{build: build, ack: make(chan struct{})}
	select {
	case c.inbox <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
	select {
	case <-cmd.ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// deliver hands m to the event loop. It reports false once the loop is gone.
func (c *Coordinator) deliver(m any) bool {
	select {
	case c.inbox <- m:
		return true
	case <-c.done:
		return false
	}
}

func (c *Coordinator) handle(msg any) {
	switch m := msg.(type) {
	case command:
		if in := m.build(c); in != nil {
			c.apply(in, nil)
		}
		close(m.ack)

	case pipelineResult:
		if m.err != nil {
			slog.Error("audio pipeline acquisition failed", "gen", m.gen, "err", m.err)
			c.apply(PipelineFailed{Gen: m.gen, Err: m.err.Error()}, nil)
			return
		}
		c.apply(PipelineReady{Gen: m.gen}, m.p)

	case openResult:
		c.metrics.SessionOpened(m.provider, m.latency, m.err)
		if m.err != nil {
			slog.Error("provider session open failed", "provider", m.provider, "gen", m.gen, "err", m.err)
			c.cause = CauseOpenFailed
			c.apply(SessionOpenFailed{Gen: m.gen, Err: m.err.Error()}, nil)
			return
		}
		slog.Info("provider session opened", "provider", m.provider, "gen", m.gen, "latency", m.latency)
		c.apply(SessionOpened{Gen: m.gen}, m.h)

	case sessionEvent:
		c.onEvent(m.gen, m.ev)

	case pipelineLost:
		if m.p != c.pipeline {
			return
		}
		reason := "capture stopped"
		if err := m.p.LostErr(); err != nil {
			reason = err.Error()
		}
		slog.Warn("audio pipeline lost", "reason", reason)
		c.cause = CausePipelineLost
		c.apply(PipelineLost{Err: reason}, nil)

	case reconnectDue:
		c.apply(ReconnectDue{Seq: m.seq}, nil)
	}
}

// apply runs in through [Transition] and executes the resulting actions.
// Inputs raised while actions execute are queued and processed afterwards.
func (c *Coordinator) apply(in Input, res any) {
	c.queue = append(c.queue, queued{in: in, res: res})
	if c.applying {
		return
	}
	c.applying = true
	for len(c.queue) > 0 {
		q := c.queue[0]
		c.queue = c.queue[1:]
		c.step(q.in, q.res)
	}
	c.applying = false
}

func (c *Coordinator) step(in Input, res any) {
	prev := c.snap
	next, actions := Transition(prev, in)
	c.snap = next
	if len(actions) > 0 {
		slog.Debug("session transition", "input", fmt.Sprintf("%T", in), "gen", next.Gen, "actions", actions)
	}
	for _, a := range actions {
		c.execute(a, res)
	}
	if prev.State != next.State {
		c.metrics.StateChanged(next.State.String())
		slog.Info("connection state changed", "from", prev.State, "to", next.State, "err", next.Err)
	}
	if prev != next {
		c.publish()
	}
}

func (c *Coordinator) execute(a Action, res any) {
	switch a.Kind {
	case ActAcquirePipeline:
		c.acquirePipeline(a.Gen)
	case ActReleasePipeline:
		c.releasePipeline()
	case ActOpenSession:
		c.openSession(a.Gen)
	case ActCloseSession:
		c.closeSession()
	case ActUpdateSession:
		c.updateSession()
	case ActAdopt:
		c.adopt(res)
	case ActDiscard:
		c.discard(res)
	case ActScheduleReconnect:
		cause := c.cause
		if cause == "" {
			cause = CauseRemoteClose
		}
		c.metrics.Reconnect(cause)
		c.reconnector.Schedule(a.Seq)
	case ActCancelReconnect:
		c.reconnector.Cancel()
	case ActArmWatchdog:
		c.watchdog.Touch(c.now())
	case ActResetWatchdog:
		c.watchdog.Reset()
	case ActStopPlayback:
		if c.sched != nil {
			c.sched.Interrupt()
		}
	case ActClearTranscript:
		c.renderer.Reset()
	}
}

func (c *Coordinator) acquirePipeline(gen uint64) {
	cfg := c.pipeCfg
	cfg.TargetRate = c.provider.Capabilities().InputSampleRate
	cfg.OnDrop = func() { c.metrics.ChunkDropped(DropQueueFull) }
	go func() {
		ctx, span, _ := observe.StartSessionSpan(c.ctx, "session.acquire_pipeline", "", gen)
		span.SetAttributes(observe.AttrSampleRate.Int(cfg.TargetRate))

		p, err := audio.AcquirePipeline(ctx, c.devices, cfg)
		observe.EndSpan(span, err)
		if !c.deliver(pipelineResult{gen: gen, p: p, err: err}) && p != nil {
			_ = p.Release()
		}
	}()
}

func (c *Coordinator) releasePipeline() {
	p := c.pipeline
	if p == nil {
		return
	}
	c.pipeline = nil
	c.pipelineRef.Store(nil)
	c.sched = nil
	if c.stopPipe != nil {
		c.stopPipe()
		c.stopPipe = nil
	}
	if err := p.Release(); err != nil {
		slog.Warn("audio pipeline release failed", "err", err)
	}
}

func (c *Coordinator) openSession(gen uint64) {
	provider := c.provider
	cfg := c.sessCfg
	c.cancelOpen()
	ctx, cancel := context.WithCancel(c.ctx)
	c.openCancel = cancel
	go func() {
		defer cancel()
		ctx, span, log := observe.StartSessionSpan(ctx, "session.open", provider.Name(), gen)

		start := time.Now()
		h, err := provider.Open(ctx, cfg)
		observe.EndSpan(span, err)
		if err != nil {
			log.Debug("session open returned error", "err", err)
		}
		res := openResult{gen: gen, provider: provider.Name(), h: h, err: err, latency: time.Since(start)}
		if !c.deliver(res) && h != nil {
			_ = h.Close()
		}
	}()
}

func (c *Coordinator) cancelOpen() {
	if c.openCancel != nil {
		c.openCancel()
		c.openCancel = nil
	}
}

func (c *Coordinator) closeSession() {
	h := c.session
	if h == nil {
		return
	}
	c.session = nil
	c.sender.setActive(nil)
	c.metrics.SessionActive(-1)
	c.closers.Add(1)
	go func() {
		defer c.closers.Done()
		if err := h.Close(); err != nil {
			slog.Debug("session close failed", "err", err)
		}
	}()
}

func (c *Coordinator) updateSession() {
	if c.session == nil {
		return
	}
	err := c.session.Update(c.sessCfg)
	switch {
	case err == nil:
		slog.Info("session reconfigured in-band")
	case errors.Is(err, s2s.ErrUpdateUnsupported):
		c.apply(Reconfigure{Live: false}, nil)
	default:
		slog.Warn("session update failed", "err", err)
	}
}

func (c *Coordinator) adopt(res any) {
	switch r := res.(type) {
	case *audio.Pipeline:
		c.pipeline = r
		c.pipelineRef.Store(r)
		c.sched = playback.New(r.Output(), playback.WithMetrics(c.metrics))
		ctx, cancel := context.WithCancel(c.ctx)
		c.stopPipe = cancel
		go c.sender.run(ctx, r)
		go func() {
			select {
			case <-r.Lost():
				c.deliver(pipelineLost{p: r})
			case <-r.Done():
			case <-ctx.Done():
			}
		}()

	case s2s.SessionHandle:
		c.session = r
		if c.pipeline != nil {
			if n := drainQueued(c.pipeline); n > 0 {
				slog.Debug("discarded audio captured while offline", "chunks", n)
			}
		}
		c.sender.setActive(r)
		c.metrics.SessionActive(1)
		c.cause = ""
		go c.pump(c.snap.Gen, r)
	}
}

func (c *Coordinator) discard(res any) {
	switch r := res.(type) {
	case *audio.Pipeline:
		slog.Debug("releasing stale audio pipeline")
		go func() { _ = r.Release() }()
	case s2s.SessionHandle:
		slog.Debug("closing stale provider session")
		go func() {
			_ = r.Close()
			audio.Drain(r.Events())
		}()
	}
}

// pump forwards a session's events to the loop tagged with its generation.
func (c *Coordinator) pump(gen uint64, h s2s.SessionHandle) {
	closed := false
	for ev := range h.Events() {
		if ev.Type == s2s.EventClosed {
			closed = true
		}
		if !c.deliver(sessionEvent{gen: gen, ev: ev}) {
			audio.Drain(h.Events())
			return
		}
	}
	if !closed {
		c.deliver(sessionEvent{gen: gen, ev: s2s.Event{Type: s2s.EventClosed, Reason: "event stream ended"}})
	}
}

func (c *Coordinator) onEvent(gen uint64, ev s2s.Event) {
	if gen != c.snap.Gen || !c.snap.SessionActive || c.session == nil {
		return
	}
	c.watchdog.Touch(c.now())
	c.metrics.EventReceived(ev.Type.String())

	switch ev.Type {
	case s2s.EventPartialInput:
		c.renderer.Partial(transcript.RoleUser, ev.Text)
	case s2s.EventPartialOutput:
		c.renderer.Partial(transcript.RoleModel, ev.Text)
	case s2s.EventTurnComplete:
		if msgs := c.renderer.TurnComplete(); len(msgs) > 0 {
			c.metrics.MessagesFinalized(len(msgs))
		}
	case s2s.EventAudio:
		c.play(ev)
	case s2s.EventInterrupted:
		c.interrupt(ev.Type)
	case s2s.EventSpeechStarted:
		if c.sched != nil && c.sched.Active() > 0 {
			c.interrupt(ev.Type)
		}
	case s2s.EventGoAway:
		slog.Warn("provider announced disconnect", "reason", ev.Reason)
	case s2s.EventError:
		slog.Warn("provider reported error", "err", ev.Err, "reason", ev.Reason)
	case s2s.EventOpened:
		slog.Debug("provider acknowledged session", "gen", gen)
	case s2s.EventClosed:
		slog.Warn("provider session closed", "gen", gen, "reason", ev.Reason)
		c.cause = CauseRemoteClose
		c.apply(SessionLost{Gen: gen, Reason: ev.Reason}, nil)
	}
}

func (c *Coordinator) play(ev s2s.Event) {
	if c.sched == nil {
		return
	}
	if ev.Buffer != nil {
		if _, err := c.sched.Enqueue(ev.Buffer); err != nil {
			slog.Debug("playback enqueue failed", "err", err)
		}
		return
	}
	channels := ev.Channels
	if channels <= 0 {
		channels = 1
	}
	c.sched.EnqueuePCM(ev.Audio, ev.SampleRate, channels)
}

func (c *Coordinator) interrupt(cause s2s.EventType) {
	stopped := 0
	if c.sched != nil {
		stopped = c.sched.Interrupt()
	}
	c.renderer.Interrupt()
	c.metrics.Interruption()
	slog.Debug("playback interrupted", "cause", cause, "units", stopped)
}

func (c *Coordinator) checkWatchdog(now time.Time) {
	if !c.snap.SessionActive || !c.snap.Intent || !c.watchdog.Expired(now) {
		return
	}
	slog.Warn("session silent, forcing reconnect",
		"last_seen", c.watchdog.LastSeen(),
		"timeout", c.watchdog.Timeout(),
	)
	c.metrics.WatchdogTimeout()
	c.cause = CauseWatchdog
	c.apply(WatchdogExpired{Gen: c.snap.Gen}, nil)
}

func (c *Coordinator) publish() {
	st := statusOf(c.snap, c.provider.Name())
	c.status.Store(&st)
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}

func (c *Coordinator) shutdown() {
	c.reconnector.Cancel()
	c.cancelOpen()
	c.apply(Disconnect{}, nil)
	c.closers.Wait()
	slog.Info("session coordinator stopped")
}
