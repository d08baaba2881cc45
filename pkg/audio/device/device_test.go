package device

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestMatchDevice(t *testing.T) {
	t.Parallel()
	names := []string{"Built-in Microphone", "USB Audio CODEC", "Jabra Evolve2 65"}

	tests := []struct {
		want string
		idx  int
	}{
		{"", -1},
		{"usb", 1},
		{"Jabra", 2},
		{"microphone", 0},
		{"AirPods", -1},
	}
	for _, tc := range tests {
		if got := matchDevice(names, tc.want); got != tc.idx {
			t.Errorf("matchDevice(%q) = %d, want %d", tc.want, got, tc.idx)
		}
	}
}

func TestDecodeF32(t *testing.T) {
	t.Parallel()
	want := []float32{0, 0.5, -1, 0.25}
	src := make([]byte, 4*len(want))
	for i, v := range want {
		binary.LittleEndian.PutUint32(src[i*4:], math.Float32bits(v))
	}

	got := decodeF32(make([]float32, len(want)), src)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCapture_OnDataBeforeStartIsDropped(t *testing.T) {
	t.Parallel()
	c := &capture{}
	// No callback installed; must not panic.
	c.onData(nil, make([]byte, 16), 4)
}

func TestCapture_OnDataTruncatesShortBuffers(t *testing.T) {
	t.Parallel()
	var got int
	c := &capture{onBlock: func(s []float32) { got = len(s) }}
	c.onData(nil, make([]byte, 10), 4)
	if got != 2 {
		t.Errorf("block length = %d, want 2 whole samples", got)
	}
}

func TestCapture_OnStopReportsOnlyUnrequestedStops(t *testing.T) {
	t.Parallel()

	var calls int
	c := &capture{onEnd: func(error) { calls++ }}
	c.onStop()
	c.onStop()
	if calls != 1 {
		t.Errorf("onStop reported %d times, want 1", calls)
	}

	calls = 0
	closed := &capture{onEnd: func(error) { calls++ }, closed: true}
	closed.onStop()
	if calls != 0 {
		t.Errorf("stop after Close reported %d times, want 0", calls)
	}
}
