package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/dolmetscher/pkg/audio"
)

func newTestEncoder(t *testing.T, cfg audio.EncoderConfig) (*audio.Encoder, *[]audio.EncodedChunk) {
	t.Helper()
	var got []audio.EncodedChunk
	enc, err := audio.NewEncoder(cfg, func(c audio.EncodedChunk) { got = append(got, c) })
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	return enc, &got
}

func TestEncoder_EmitsOncePerFullWindow(t *testing.T) {
	t.Parallel()
	enc, got := newTestEncoder(t, audio.EncoderConfig{ChunkSamples: 8, InputRate: 16000, TargetRate: 16000})

	enc.Write(make([]float32, 5))
	if len(*got) != 0 {
		t.Fatalf("emitted %d chunks before the window filled", len(*got))
	}
	enc.Write(make([]float32, 3))
	if len(*got) != 1 {
		t.Fatalf("emitted %d chunks, want 1", len(*got))
	}
	// A single large block spanning several windows.
	enc.Write(make([]float32, 20))
	if len(*got) != 3 {
		t.Fatalf("emitted %d chunks, want 3", len(*got))
	}
	for i, c := range *got {
		if c.Seq != uint64(i+1) {
			t.Errorf("chunk %d seq = %d, want %d", i, c.Seq, i+1)
		}
		if len(c.Data) != 16 {
			t.Errorf("chunk %d has %d bytes, want 16", i, len(c.Data))
		}
		if c.MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("chunk %d mime = %q", i, c.MIMEType)
		}
	}
}

func TestEncoder_PreservesCaptureOrder(t *testing.T) {
	t.Parallel()
	enc, got := newTestEncoder(t, audio.EncoderConfig{ChunkSamples: 4, InputRate: 8000, TargetRate: 8000})
	in := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}
	enc.Write(in[:3])
	enc.Write(in[3:])

	var out []int16
	for _, c := range *got {
		out = append(out, audio.BytesToInt16s(c.Data)...)
	}
	for i := range in {
		if want := audio.FloatToPCM16(in[i]); out[i] != want {
			t.Fatalf("sample %d = %d, want %d", i, out[i], want)
		}
	}
}

func TestEncoder_Downsamples(t *testing.T) {
	t.Parallel()
	enc, got := newTestEncoder(t, audio.EncoderConfig{ChunkSamples: 2048, InputRate: 48000, TargetRate: 16000})
	if enc.ChunkSamples() != 683 {
		t.Fatalf("ChunkSamples = %d, want 683", enc.ChunkSamples())
	}
	in := make([]float32, 2048)
	for i := range in {
		in[i] = 2 // clamped
	}
	enc.Write(in)
	if len(*got) != 1 {
		t.Fatalf("emitted %d chunks, want 1", len(*got))
	}
	c := (*got)[0]
	if c.SampleRate != 16000 || c.Samples() != 683 {
		t.Fatalf("chunk = %d samples @ %d", c.Samples(), c.SampleRate)
	}
	if s := int16(binary.LittleEndian.Uint16(c.Data)); s != 32767 {
		t.Fatalf("first sample = %d, want clamped 32767", s)
	}
}

func TestEncoder_SkipsEmptyBlocks(t *testing.T) {
	t.Parallel()
	enc, got := newTestEncoder(t, audio.EncoderConfig{ChunkSamples: 4, InputRate: 16000, TargetRate: 16000})
	enc.Write(nil)
	enc.Write([]float32{})
	if len(*got) != 0 {
		t.Fatal("empty blocks must not emit")
	}
}

func TestEncoder_SteadyStateAllocations(t *testing.T) {
	var last audio.EncodedChunk
	enc, err := audio.NewEncoder(audio.EncoderConfig{ChunkSamples: 2048, InputRate: 48000, TargetRate: 16000},
		func(c audio.EncodedChunk) { last = c })
	if err != nil {
		t.Fatal(err)
	}
	partial := make([]float32, 512)
	if n := testing.AllocsPerRun(100, func() {
		enc.Write(partial[:100])
	}); n > 1 {
		// At most one window fills per run; its payload is the only allocation.
		t.Fatalf("Write allocated %.1f times per call, want <= 1", n)
	}
	full := make([]float32, 2048)
	if n := testing.AllocsPerRun(50, func() { enc.Write(full) }); n != 1 {
		t.Fatalf("full-window Write allocated %.1f times, want exactly 1", n)
	}
	_ = last
}

func TestEncoder_LevelAndGain(t *testing.T) {
	t.Parallel()
	var level audio.LevelMeter
	gain := audio.NewAutoGain()
	enc, got := newTestEncoder(t, audio.EncoderConfig{ChunkSamples: 256, InputRate: 16000, TargetRate: 16000, Gain: gain, Level: &level})
	in := make([]float32, 256)
	for i := range in {
		in[i] = 0.02
	}
	for range 20 {
		enc.Write(in)
	}
	if l := level.Level(); l < 0.019 || l > 0.021 {
		t.Fatalf("Level = %v, want ~0.02", l)
	}
	if gain.Gain() <= 1 {
		t.Fatalf("quiet input should raise gain, got %v", gain.Gain())
	}
	lastChunk := (*got)[len(*got)-1]
	if s := audio.BytesToInt16s(lastChunk.Data)[0]; s <= audio.FloatToPCM16(0.02) {
		t.Fatalf("gain not applied: sample %d", s)
	}
	if in[0] != 0.02 {
		t.Fatal("encoder must not modify the caller's block")
	}
}

func TestNewEncoder_Validation(t *testing.T) {
	t.Parallel()
	if _, err := audio.NewEncoder(audio.EncoderConfig{InputRate: 0, TargetRate: 16000}, func(audio.EncodedChunk) {}); err == nil {
		t.Error("expected error for zero input rate")
	}
	if _, err := audio.NewEncoder(audio.EncoderConfig{InputRate: 48000, TargetRate: 16000}, nil); err == nil {
		t.Error("expected error for nil emit")
	}
}
