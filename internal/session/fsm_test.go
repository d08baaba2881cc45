package session

import (
	"slices"
	"testing"
)

// run feeds inputs through Transition and returns the final snapshot and
// every action requested along the way.
func run(s Snapshot, inputs ...Input) (Snapshot, []Action) {
	var all []Action
	for _, in := range inputs {
		var actions []Action
		s, actions = Transition(s, in)
		all = append(all, actions...)
	}
	return s, all
}

func kinds(actions []Action) []ActionKind {
	out := make([]ActionKind, len(actions))
	for i, a := range actions {
		out[i] = a.Kind
	}
	return out
}

func count(actions []Action, k ActionKind) int {
	n := 0
	for _, a := range actions {
		if a.Kind == k {
			n++
		}
	}
	return n
}

// connected returns the snapshot after a clean connect.
func connected(t *testing.T) Snapshot {
	t.Helper()
	s, _ := run(Snapshot{}, Connect{}, PipelineReady{Gen: 1}, SessionOpened{Gen: 2})
	if s.State != StateConnected || !s.PipelineUp || !s.SessionActive || s.Gen != 2 {
		t.Fatalf("connected snapshot = %+v", s)
	}
	return s
}

func TestTransition_Connect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		from      Snapshot
		wantState ConnectionState
		wantActs  []Action
	}{
		{
			name:      "from disconnected acquires pipeline",
			from:      Snapshot{},
			wantState: StateConnecting,
			wantActs:  []Action{{Kind: ActAcquirePipeline, Gen: 1}},
		},
		{
			name:      "from error clears message",
			from:      Snapshot{State: StateError, Err: "boom", Gen: 4},
			wantState: StateConnecting,
			wantActs:  []Action{{Kind: ActAcquirePipeline, Gen: 5}},
		},
		{
			name:      "while connecting is a no-op",
			from:      Snapshot{State: StateConnecting, Intent: true, Gen: 1},
			wantState: StateConnecting,
		},
		{
			name:      "while connected is a no-op",
			from:      Snapshot{State: StateConnected, Intent: true, PipelineUp: true, SessionActive: true, Gen: 2},
			wantState: StateConnected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, acts := Transition(tt.from, Connect{})
			if got.State != tt.wantState {
				t.Errorf("state = %v, want %v", got.State, tt.wantState)
			}
			if !slices.Equal(acts, tt.wantActs) {
				t.Errorf("actions = %+v, want %+v", acts, tt.wantActs)
			}
			if tt.wantActs != nil && (got.Err != "" || !got.Intent) {
				t.Errorf("snapshot = %+v, want intent set and error cleared", got)
			}
		})
	}
}

func TestTransition_ConnectSequence(t *testing.T) {
	t.Parallel()

	s, acts := Transition(Snapshot{}, Connect{})
	s, acts = Transition(s, PipelineReady{Gen: acts[0].Gen})
	if !slices.Equal(acts, []Action{{Kind: ActAdopt}, {Kind: ActOpenSession, Gen: 2}}) {
		t.Fatalf("after pipeline ready: %+v", acts)
	}
	if !s.PipelineUp || s.State != StateConnecting {
		t.Fatalf("after pipeline ready: %+v", s)
	}
	s, acts = Transition(s, SessionOpened{Gen: 2})
	if !slices.Equal(kinds(acts), []ActionKind{ActAdopt, ActArmWatchdog}) {
		t.Fatalf("after session opened: %+v", acts)
	}
	if s.State != StateConnected || !s.SessionActive {
		t.Fatalf("after session opened: %+v", s)
	}
}

func TestTransition_StaleResultsAreDiscarded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		inputs []Input
		last   Input
	}{
		{
			name:   "pipeline ready with old generation",
			inputs: []Input{Connect{}, Disconnect{}, Connect{}},
			last:   PipelineReady{Gen: 1},
		},
		{
			name:   "pipeline ready after disconnect",
			inputs: []Input{Connect{}, Disconnect{}},
			last:   PipelineReady{Gen: 1},
		},
		{
			name:   "session opened after disconnect",
			inputs: []Input{Connect{}, PipelineReady{Gen: 1}, Disconnect{}},
			last:   SessionOpened{Gen: 2},
		},
		{
			name:   "session opened superseded by reconfigure",
			inputs: []Input{Connect{}, PipelineReady{Gen: 1}, Reconfigure{}},
			last:   SessionOpened{Gen: 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			before, _ := run(Snapshot{}, tt.inputs...)
			after, acts := Transition(before, tt.last)
			if !slices.Equal(kinds(acts), []ActionKind{ActDiscard}) {
				t.Errorf("actions = %+v, want discard", acts)
			}
			if after != before {
				t.Errorf("snapshot changed: %+v -> %+v", before, after)
			}
		})
	}
}

func TestTransition_AcquisitionFailures(t *testing.T) {
	t.Parallel()

	t.Run("pipeline", func(t *testing.T) {
		t.Parallel()
		s, acts := run(Snapshot{}, Connect{}, PipelineFailed{Gen: 1, Err: "permission denied"})
		if s.State != StateError || s.Err != "permission denied" || s.Intent || s.PipelineUp {
			t.Errorf("snapshot = %+v", s)
		}
		if count(acts, ActScheduleReconnect) != 0 {
			t.Error("acquisition failure scheduled a reconnect")
		}
	})

	t.Run("session rolls back pipeline", func(t *testing.T) {
		t.Parallel()
		s, _ := run(Snapshot{}, Connect{}, PipelineReady{Gen: 1})
		s, acts := Transition(s, SessionOpenFailed{Gen: 2, Err: "401 unauthorized"})
		want := []ActionKind{ActStopPlayback, ActReleasePipeline, ActClearTranscript}
		if !slices.Equal(kinds(acts), want) {
			t.Errorf("actions = %v, want %v", kinds(acts), want)
		}
		if s.State != StateError || s.Err != "401 unauthorized" || s.Intent || s.PipelineUp {
			t.Errorf("snapshot = %+v", s)
		}
	})

	t.Run("stale failure ignored", func(t *testing.T) {
		t.Parallel()
		s, _ := run(Snapshot{}, Connect{}, Disconnect{})
		got, acts := Transition(s, PipelineFailed{Gen: 1, Err: "late"})
		if got != s || len(acts) != 0 {
			t.Errorf("stale failure changed state: %+v %+v", got, acts)
		}
	})
}

func TestTransition_RemoteCloseKeepsPipeline(t *testing.T) {
	t.Parallel()

	s := connected(t)
	s, acts := Transition(s, SessionLost{Gen: 2, Reason: "remote close 1011"})
	want := []Action{{Kind: ActResetWatchdog}, {Kind: ActCloseSession}, {Kind: ActScheduleReconnect, Seq: 1}}
	if !slices.Equal(acts, want) {
		t.Fatalf("actions = %+v, want %+v", acts, want)
	}
	if s.State != StateConnecting || !s.PipelineUp || s.SessionActive || !s.ReconnectPending {
		t.Fatalf("snapshot = %+v", s)
	}

	s, acts = Transition(s, ReconnectDue{Seq: 1})
	if !slices.Equal(acts, []Action{{Kind: ActOpenSession, Gen: 3}}) {
		t.Fatalf("reconnect actions = %+v, want session-only open", acts)
	}
	s, acts = Transition(s, SessionOpened{Gen: 3})
	if s.State != StateConnected || count(acts, ActAdopt) != 1 {
		t.Fatalf("after reopen: %+v %+v", s, acts)
	}
}

func TestTransition_ReconnectOpenFailureBacksOffAgain(t *testing.T) {
	t.Parallel()

	s, _ := run(connected(t), SessionLost{Gen: 2, Reason: "remote close 1006"}, ReconnectDue{Seq: 1})
	if !s.Reconnecting {
		t.Fatalf("snapshot = %+v, want reconnecting", s)
	}

	s, acts := Transition(s, SessionOpenFailed{Gen: 3, Err: "dial: network unreachable"})
	want := []Action{{Kind: ActScheduleReconnect, Seq: 2}}
	if !slices.Equal(acts, want) {
		t.Fatalf("actions = %+v, want %+v", acts, want)
	}
	if s.State != StateConnecting || !s.Intent || !s.PipelineUp || !s.ReconnectPending {
		t.Fatalf("snapshot = %+v", s)
	}
	if s.Err != "dial: network unreachable" {
		t.Errorf("Err = %q", s.Err)
	}

	s, acts = run(s, ReconnectDue{Seq: 2}, SessionOpened{Gen: 4})
	if s.State != StateConnected || s.Reconnecting || s.Err != "" {
		t.Fatalf("after recovery: %+v", s)
	}
	if count(acts, ActAcquirePipeline) != 0 || count(acts, ActReleasePipeline) != 0 {
		t.Errorf("pipeline touched during reconnect: %v", kinds(acts))
	}

	// A failure on a user-initiated connect still ends in StateError.
	s, _ = run(s, Disconnect{}, Connect{}, PipelineReady{Gen: 6})
	s, _ = Transition(s, SessionOpenFailed{Gen: 7, Err: "401 unauthorized"})
	if s.State != StateError || s.Intent || s.PipelineUp {
		t.Errorf("user connect failure: %+v", s)
	}
}

func TestTransition_FullLifecycleAcquiresPipelineOnce(t *testing.T) {
	t.Parallel()

	_, acts := run(Snapshot{},
		Connect{},
		PipelineReady{Gen: 1},
		SessionOpened{Gen: 2},
		SessionLost{Gen: 2},
		ReconnectDue{Seq: 1},
		SessionOpened{Gen: 3},
		WatchdogExpired{Gen: 3},
		ReconnectDue{Seq: 2},
		SessionOpened{Gen: 4},
	)
	if n := count(acts, ActAcquirePipeline); n != 1 {
		t.Errorf("pipeline acquired %d times, want 1", n)
	}
	if n := count(acts, ActReleasePipeline); n != 0 {
		t.Errorf("pipeline released %d times, want 0", n)
	}
	if n := count(acts, ActOpenSession); n != 3 {
		t.Errorf("session opened %d times, want 3", n)
	}
}

func TestTransition_RemoteCloseWithoutIntent(t *testing.T) {
	t.Parallel()

	s := connected(t)
	s.Intent = false
	s, acts := Transition(s, SessionLost{Gen: 2})
	if s.State != StateDisconnected || s.PipelineUp || s.ReconnectPending {
		t.Errorf("snapshot = %+v", s)
	}
	if count(acts, ActScheduleReconnect) != 0 || count(acts, ActReleasePipeline) != 1 {
		t.Errorf("actions = %v", kinds(acts))
	}
}

func TestTransition_Watchdog(t *testing.T) {
	t.Parallel()

	t.Run("resets liveness before reconnecting", func(t *testing.T) {
		t.Parallel()
		s, acts := Transition(connected(t), WatchdogExpired{Gen: 2})
		want := []ActionKind{ActResetWatchdog, ActCloseSession, ActScheduleReconnect}
		if !slices.Equal(kinds(acts), want) {
			t.Errorf("actions = %v, want %v", kinds(acts), want)
		}
		if s.SessionActive || !s.PipelineUp || s.State != StateConnecting {
			t.Errorf("snapshot = %+v", s)
		}
	})

	t.Run("ignored without intent", func(t *testing.T) {
		t.Parallel()
		s := connected(t)
		s.Intent = false
		if _, acts := Transition(s, WatchdogExpired{Gen: 2}); len(acts) != 0 {
			t.Errorf("actions = %v", kinds(acts))
		}
	})

	t.Run("ignored for stale session", func(t *testing.T) {
		t.Parallel()
		if _, acts := Transition(connected(t), WatchdogExpired{Gen: 1}); len(acts) != 0 {
			t.Errorf("actions = %v", kinds(acts))
		}
	})
}

func TestTransition_SingleFlightReconnect(t *testing.T) {
	t.Parallel()

	// The watchdog and a remote close both fire for the same failure.
	s, acts := run(connected(t), WatchdogExpired{Gen: 2}, SessionLost{Gen: 2, Reason: "late close"})
	if n := count(acts, ActScheduleReconnect); n != 1 {
		t.Errorf("scheduled %d reconnects, want 1", n)
	}

	// A pipeline loss while the reconnect is pending does not arm a second
	// timer but turns the pending reconnect into a full one.
	s, acts = Transition(s, PipelineLost{Err: "device unplugged"})
	if count(acts, ActScheduleReconnect) != 0 || count(acts, ActReleasePipeline) != 1 {
		t.Errorf("actions = %v", kinds(acts))
	}
	s, acts = Transition(s, ReconnectDue{Seq: s.ReconnectSeq})
	if !slices.Equal(kinds(acts), []ActionKind{ActAcquirePipeline}) {
		t.Errorf("reconnect actions = %v, want full acquire", kinds(acts))
	}
	if s.ReconnectPending {
		t.Error("reconnect still pending after firing")
	}
}

func TestTransition_ReconnectDue(t *testing.T) {
	t.Parallel()

	lost, _ := Transition(connected(t), SessionLost{Gen: 2})

	t.Run("wrong sequence ignored", func(t *testing.T) {
		t.Parallel()
		got, acts := Transition(lost, ReconnectDue{Seq: 99})
		if got != lost || len(acts) != 0 {
			t.Errorf("stale timer acted: %+v", acts)
		}
	})

	t.Run("cancelled by disconnect", func(t *testing.T) {
		t.Parallel()
		s, acts := Transition(lost, Disconnect{})
		if count(acts, ActCancelReconnect) != 1 {
			t.Errorf("actions = %v, want cancel", kinds(acts))
		}
		if _, acts := Transition(s, ReconnectDue{Seq: lost.ReconnectSeq}); len(acts) != 0 {
			t.Errorf("timer fired after disconnect: %v", kinds(acts))
		}
	})
}

func TestTransition_Disconnect(t *testing.T) {
	t.Parallel()

	s, acts := Transition(connected(t), Disconnect{})
	want := []ActionKind{ActResetWatchdog, ActCloseSession, ActStopPlayback, ActReleasePipeline, ActClearTranscript}
	if !slices.Equal(kinds(acts), want) {
		t.Errorf("actions = %v, want %v", kinds(acts), want)
	}
	if s.State != StateDisconnected || s.Intent || s.PipelineUp || s.SessionActive {
		t.Errorf("snapshot = %+v", s)
	}

	// A late remote close for the session just released does nothing.
	if _, acts := Transition(s, SessionLost{Gen: 2}); len(acts) != 0 {
		t.Errorf("late close acted: %v", kinds(acts))
	}
}

func TestTransition_Reconfigure(t *testing.T) {
	t.Parallel()

	t.Run("live update", func(t *testing.T) {
		t.Parallel()
		before := connected(t)
		s, acts := Transition(before, Reconfigure{Live: true})
		if !slices.Equal(kinds(acts), []ActionKind{ActUpdateSession}) || s != before {
			t.Errorf("live reconfigure: %+v %v", s, kinds(acts))
		}
	})

	t.Run("session-only restart", func(t *testing.T) {
		t.Parallel()
		s, acts := Transition(connected(t), Reconfigure{Live: false})
		want := []ActionKind{ActResetWatchdog, ActCloseSession, ActOpenSession}
		if !slices.Equal(kinds(acts), want) {
			t.Errorf("actions = %v, want %v", kinds(acts), want)
		}
		if !s.PipelineUp || s.State != StateConnecting || s.ReconnectPending {
			t.Errorf("snapshot = %+v", s)
		}
	})

	t.Run("rapid toggles never touch the pipeline", func(t *testing.T) {
		t.Parallel()
		s := connected(t)
		var all []Action
		for range 5 {
			var acts []Action
			s, acts = Transition(s, Reconfigure{})
			all = append(all, acts...)
			s, acts = Transition(s, SessionOpened{Gen: s.Gen})
			all = append(all, acts...)
		}
		if count(all, ActReleasePipeline) != 0 || count(all, ActAcquirePipeline) != 0 {
			t.Errorf("pipeline touched: %v", kinds(all))
		}
		if s.State != StateConnected {
			t.Errorf("state = %v", s.State)
		}
	})

	t.Run("while disconnected", func(t *testing.T) {
		t.Parallel()
		if _, acts := Transition(Snapshot{}, Reconfigure{}); len(acts) != 0 {
			t.Errorf("actions = %v", kinds(acts))
		}
	})
}

func TestTransition_SwitchProvider(t *testing.T) {
	t.Parallel()

	s, acts := Transition(connected(t), SwitchProvider{})
	want := []ActionKind{
		ActResetWatchdog, ActCloseSession, ActStopPlayback, ActReleasePipeline, ActClearTranscript,
		ActAcquirePipeline,
	}
	if !slices.Equal(kinds(acts), want) {
		t.Errorf("actions = %v, want %v", kinds(acts), want)
	}
	if s.State != StateConnecting || !s.Intent || s.PipelineUp {
		t.Errorf("snapshot = %+v", s)
	}

	s, acts = Transition(Snapshot{}, SwitchProvider{})
	if s.State != StateDisconnected || count(acts, ActAcquirePipeline) != 0 {
		t.Errorf("switch while disconnected: %+v %v", s, kinds(acts))
	}
}

func TestTransition_PipelineLost(t *testing.T) {
	t.Parallel()

	s, acts := Transition(connected(t), PipelineLost{Err: "capture stopped"})
	want := []ActionKind{ActResetWatchdog, ActCloseSession, ActStopPlayback, ActReleasePipeline, ActScheduleReconnect}
	if !slices.Equal(kinds(acts), want) {
		t.Errorf("actions = %v, want %v", kinds(acts), want)
	}
	if s.PipelineUp || s.SessionActive || s.State != StateConnecting {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestActionKind_String(t *testing.T) {
	t.Parallel()
	if got := ActScheduleReconnect.String(); got != "schedule_reconnect" {
		t.Errorf("String() = %q", got)
	}
	if got := ActionKind(0).String(); got != "unknown" {
		t.Errorf("String() = %q", got)
	}
}
