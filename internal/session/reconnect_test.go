package session

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestReconnector_Defaults(t *testing.T) {
	r := NewReconnector(0, func(uint64) {})
	if r.Backoff() != 2*time.Second {
		t.Errorf("expected default backoff=2s, got %v", r.Backoff())
	}
	if r.Pending() {
		t.Error("new reconnector reports pending")
	}
}

func TestReconnector_FiresAfterBackoff(t *testing.T) {
	fired := make(chan uint64, 1)
	r := NewReconnector(10*time.Millisecond, func(seq uint64) { fired <- seq })

	start := time.Now()
	if !r.Schedule(7) {
		t.Fatal("Schedule returned false on idle reconnector")
	}
	if !r.Pending() {
		t.Error("expected pending after Schedule")
	}

	select {
	case seq := <-fired:
		if seq != 7 {
			t.Errorf("fired with seq %d, want 7", seq)
		}
		if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
			t.Errorf("fired after %v, before the backoff", elapsed)
		}
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	if r.Pending() {
		t.Error("still pending after firing")
	}
}

func TestReconnector_SingleFlight(t *testing.T) {
	var fires atomic.Int32
	r := NewReconnector(20*time.Millisecond, func(uint64) { fires.Add(1) })

	if !r.Schedule(1) {
		t.Fatal("first Schedule returned false")
	}
	if r.Schedule(2) {
		t.Error("second Schedule armed another timer")
	}

	time.Sleep(80 * time.Millisecond)
	if got := fires.Load(); got != 1 {
		t.Errorf("fired %d times, want 1", got)
	}

	// Once fired, a new timer can be armed.
	if !r.Schedule(3) {
		t.Error("Schedule after fire returned false")
	}
	r.Cancel()
}

func TestReconnector_Cancel(t *testing.T) {
	var fires atomic.Int32
	r := NewReconnector(20*time.Millisecond, func(uint64) { fires.Add(1) })

	if r.Cancel() {
		t.Error("Cancel on idle reconnector returned true")
	}
	r.Schedule(1)
	if !r.Cancel() {
		t.Error("Cancel on pending reconnector returned false")
	}

	time.Sleep(60 * time.Millisecond)
	if got := fires.Load(); got != 0 {
		t.Errorf("cancelled timer fired %d times", got)
	}
}
