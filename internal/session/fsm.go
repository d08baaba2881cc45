package session

// Input is something that happened: a user command, an asynchronous result,
// a provider signal or a timer.
type Input interface{ input() }

type (
	// Connect is the user asking to be connected.
	Connect struct{}

	// Disconnect is the user asking to be disconnected.
	Disconnect struct{}

	// SwitchProvider runs a full disconnect and, if the user was connected,
	// a fresh connect. The caller has already selected the new provider.
	SwitchProvider struct{}

	// PipelineReady reports a successful pipeline acquisition.
	PipelineReady struct{ Gen uint64 }

	// PipelineFailed reports a failed pipeline acquisition.
	PipelineFailed struct {
		Gen uint64
		Err string
	}

	// PipelineLost reports that the capture device stopped on its own.
	PipelineLost struct{ Err string }

	// SessionOpened reports a successful session open.
	SessionOpened struct{ Gen uint64 }

	// SessionOpenFailed reports a failed session open.
	SessionOpenFailed struct {
		Gen uint64
		Err string
	}

	// SessionLost reports that the provider closed the session.
	SessionLost struct {
		Gen    uint64
		Reason string
	}

	// WatchdogExpired reports that no inbound event arrived within the
	// watchdog timeout.
	WatchdogExpired struct{ Gen uint64 }

	// ReconnectDue reports that the reconnect timer fired.
	ReconnectDue struct{ Seq uint64 }

	// Reconfigure reports a change to provider-side session parameters.
	// Live is true when the session accepts in-band updates.
	Reconfigure struct{ Live bool }
)

func (Connect) input()           {}
func (Disconnect) input()        {}
func (SwitchProvider) input()    {}
func (PipelineReady) input()     {}
func (PipelineFailed) input()    {}
func (PipelineLost) input()      {}
func (SessionOpened) input()     {}
func (SessionOpenFailed) input() {}
func (SessionLost) input()       {}
func (WatchdogExpired) input()   {}
func (ReconnectDue) input()      {}
func (Reconfigure) input()       {}

// ActionKind enumerates the side effects [Transition] can request.
type ActionKind int

const (
	// ActAcquirePipeline starts an asynchronous pipeline acquisition tagged
	// with Action.Gen.
	ActAcquirePipeline ActionKind = iota + 1
	// ActReleasePipeline releases the current pipeline.
	ActReleasePipeline
	// ActOpenSession starts an asynchronous session open tagged with
	// Action.Gen.
	ActOpenSession
	// ActCloseSession closes the current session handle.
	ActCloseSession
	// ActUpdateSession sends the current session parameters in-band.
	ActUpdateSession
	// ActAdopt keeps the resource carried by the input being processed.
	ActAdopt
	// ActDiscard releases the resource carried by the input being processed.
	ActDiscard
	// ActScheduleReconnect arms the reconnect timer tagged with Action.Seq.
	ActScheduleReconnect
	// ActCancelReconnect disarms the reconnect timer.
	ActCancelReconnect
	// ActArmWatchdog marks the session as seen now.
	ActArmWatchdog
	// ActResetWatchdog clears the last-seen timestamp.
	ActResetWatchdog
	// ActStopPlayback interrupts all scheduled playback.
	ActStopPlayback
	// ActClearTranscript discards both transcript accumulators.
	ActClearTranscript
)

var actionNames = [...]string{
	ActAcquirePipeline:   "acquire_pipeline",
	ActReleasePipeline:   "release_pipeline",
	ActOpenSession:       "open_session",
	ActCloseSession:      "close_session",
	ActUpdateSession:     "update_session",
	ActAdopt:             "adopt",
	ActDiscard:           "discard",
	ActScheduleReconnect: "schedule_reconnect",
	ActCancelReconnect:   "cancel_reconnect",
	ActArmWatchdog:       "arm_watchdog",
	ActResetWatchdog:     "reset_watchdog",
	ActStopPlayback:      "stop_playback",
	ActClearTranscript:   "clear_transcript",
}

// String returns the snake_case action name.
func (k ActionKind) String() string {
	if k > 0 && int(k) < len(actionNames) {
		return actionNames[k]
	}
	return "unknown"
}

// Action is one side effect requested by [Transition].
type Action struct {
	Kind ActionKind
	Gen  uint64
	Seq  uint64
}

func act(k ActionKind) Action { return Action{Kind: k} }

// Transition computes the next snapshot and the side effects to perform for
// one input. It has no side effects of its own. Actions must be executed in
// order.
func Transition(s Snapshot, in Input) (Snapshot, []Action) {
	switch in := in.(type) {
	case Connect:
		return connect(s)

	case Disconnect:
		return disconnect(s)

	case SwitchProvider:
		wanted := s.Intent
		s, actions := disconnect(s)
		if !wanted {
			return s, actions
		}
		s, more := connect(s)
		return s, append(actions, more...)

	case PipelineReady:
		if in.Gen != s.Gen || s.State != StateConnecting || !s.Intent || s.PipelineUp {
			return s, []Action{act(ActDiscard)}
		}
		s.PipelineUp = true
		s.Gen++
		return s, []Action{act(ActAdopt), {Kind: ActOpenSession, Gen: s.Gen}}

	case PipelineFailed:
		if in.Gen != s.Gen || s.State != StateConnecting {
			return s, nil
		}
		s.State = StateError
		s.Err = in.Err
		s.Intent = false
		return s, nil

	case PipelineLost:
		if !s.PipelineUp {
			return s, nil
		}
		var actions []Action
		s.PipelineUp = false
		s.Gen++
		if s.SessionActive {
			s.SessionActive = false
			actions = append(actions, act(ActResetWatchdog), act(ActCloseSession))
		}
		actions = append(actions, act(ActStopPlayback), act(ActReleasePipeline))
		s, more := sessionFailure(s)
		return s, append(actions, more...)

	case SessionOpened:
		if in.Gen != s.Gen || s.State != StateConnecting || !s.Intent || !s.PipelineUp {
			return s, []Action{act(ActDiscard)}
		}
		s.Reconnecting = false
		s.SessionActive = true
		s.State = StateConnected
		s.Err = ""
		return s, []Action{act(ActAdopt), act(ActArmWatchdog)}

	case SessionOpenFailed:
		if in.Gen != s.Gen || s.State != StateConnecting {
			return s, nil
		}
		if s.Reconnecting && s.Intent {
			// Automatic attempts keep the pipeline and back off again.
			s.Err = in.Err
			return sessionFailure(s)
		}
		var actions []Action
		if s.PipelineUp {
			s.PipelineUp = false
			actions = append(actions, act(ActStopPlayback), act(ActReleasePipeline))
		}
		s.State = StateError
		s.Err = in.Err
		s.Intent = false
		return s, append(actions, act(ActClearTranscript))

	case SessionLost:
		if in.Gen != s.Gen || !s.SessionActive {
			return s, nil
		}
		s.SessionActive = false
		s, more := sessionFailure(s)
		return s, append([]Action{act(ActResetWatchdog), act(ActCloseSession)}, more...)

	case WatchdogExpired:
		if in.Gen != s.Gen || !s.SessionActive || !s.Intent {
			return s, nil
		}
		s.SessionActive = false
		s, more := sessionFailure(s)
		return s, append([]Action{act(ActResetWatchdog), act(ActCloseSession)}, more...)

	case ReconnectDue:
		if !s.ReconnectPending || in.Seq != s.ReconnectSeq {
			return s, nil
		}
		s.ReconnectPending = false
		if !s.Intent || s.State != StateConnecting {
			return s, nil
		}
		s.Reconnecting = true
		s.Gen++
		if s.PipelineUp {
			return s, []Action{{Kind: ActOpenSession, Gen: s.Gen}}
		}
		return s, []Action{{Kind: ActAcquirePipeline, Gen: s.Gen}}

	case Reconfigure:
		switch {
		case s.SessionActive && in.Live:
			return s, []Action{act(ActUpdateSession)}
		case s.SessionActive:
			s.SessionActive = false
			s.State = StateConnecting
			s.Reconnecting = true
			s.Gen++
			return s, []Action{
				act(ActResetWatchdog),
				act(ActCloseSession),
				{Kind: ActOpenSession, Gen: s.Gen},
			}
		case s.State == StateConnecting && s.PipelineUp && !s.ReconnectPending:
			// An open is in flight with the old parameters; restart it.
			s.Gen++
			return s, []Action{{Kind: ActOpenSession, Gen: s.Gen}}
		}
		return s, nil
	}
	return s, nil
}

func connect(s Snapshot) (Snapshot, []Action) {
	if s.State == StateConnecting || s.State == StateConnected {
		return s, nil
	}
	s.State = StateConnecting
	s.Err = ""
	s.Intent = true
	s.Reconnecting = false
	s.Gen++
	if s.PipelineUp {
		return s, []Action{{Kind: ActOpenSession, Gen: s.Gen}}
	}
	return s, []Action{{Kind: ActAcquirePipeline, Gen: s.Gen}}
}

// disconnect releases everything. Each release is requested regardless of
// the others so that the executor can run them all best-effort.
func disconnect(s Snapshot) (Snapshot, []Action) {
	s.Intent = false
	s.Reconnecting = false
	var actions []Action
	if s.ReconnectPending {
		s.ReconnectPending = false
		actions = append(actions, act(ActCancelReconnect))
	}
	if s.SessionActive {
		s.SessionActive = false
		actions = append(actions, act(ActResetWatchdog), act(ActCloseSession))
	}
	actions = append(actions, act(ActStopPlayback))
	if s.PipelineUp {
		s.PipelineUp = false
		actions = append(actions, act(ActReleasePipeline))
	}
	actions = append(actions, act(ActClearTranscript))
	s.Gen++
	s.State = StateDisconnected
	s.Err = ""
	return s, actions
}

// sessionFailure schedules a reconnect while the user still wants to be
// connected and otherwise winds down to Disconnected. At most one reconnect
// is pending at a time.
func sessionFailure(s Snapshot) (Snapshot, []Action) {
	if !s.Intent {
		s.State = StateDisconnected
		if !s.PipelineUp {
			return s, nil
		}
		s.PipelineUp = false
		return s, []Action{act(ActStopPlayback), act(ActReleasePipeline)}
	}
	s.State = StateConnecting
	if s.ReconnectPending {
		return s, nil
	}
	s.ReconnectPending = true
	s.ReconnectSeq++
	return s, []Action{{Kind: ActScheduleReconnect, Seq: s.ReconnectSeq}}
}
