package audio_test

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/dolmetscher/pkg/audio"
	"github.com/MrWong99/dolmetscher/pkg/audio/mock"
)

func TestAcquirePipeline_UsesGrantedRate(t *testing.T) {
	t.Parallel()
	capture := &mock.Capture{Rate: 44100}
	devs := &mock.Devices{CaptureResult: capture}

	p, err := audio.AcquirePipeline(t.Context(), devs, audio.PipelineConfig{
		Capture:      audio.CaptureConfig{SampleRate: 48000},
		ChunkSamples: 2048,
		TargetRate:   16000,
	})
	if err != nil {
		t.Fatalf("AcquirePipeline: %v", err)
	}
	defer p.Release()

	capture.Feed(make([]float32, 2048))
	select {
	case c := <-p.Chunks():
		if c.Samples() != 744 {
			t.Fatalf("chunk has %d samples, want 744 (44100 -> 16000)", c.Samples())
		}
	default:
		t.Fatal("no chunk emitted")
	}
}

func TestAcquirePipeline_RollsBackOnCaptureFailure(t *testing.T) {
	t.Parallel()
	out := &mock.Output{}
	devs := &mock.Devices{OutputResult: out, CaptureError: errors.New("permission denied")}

	_, err := audio.AcquirePipeline(t.Context(), devs, audio.PipelineConfig{TargetRate: 16000})
	if err == nil {
		t.Fatal("expected error")
	}
	if !out.Closed() {
		t.Fatal("output device must be released when capture fails")
	}
}

func TestAcquirePipeline_RollsBackOnStartFailure(t *testing.T) {
	t.Parallel()
	capture := &mock.Capture{StartError: errors.New("busy")}
	out := &mock.Output{}
	devs := &mock.Devices{CaptureResult: capture, OutputResult: out}

	if _, err := audio.AcquirePipeline(t.Context(), devs, audio.PipelineConfig{TargetRate: 16000}); err == nil {
		t.Fatal("expected error")
	}
	if !capture.Closed() || !out.Closed() {
		t.Fatal("both devices must be released when start fails")
	}
}

func TestPipeline_DropsWhenQueueFull(t *testing.T) {
	t.Parallel()
	capture := &mock.Capture{Rate: 16000}
	var drops atomic.Int32
	p, err := audio.AcquirePipeline(t.Context(), &mock.Devices{CaptureResult: capture}, audio.PipelineConfig{
		ChunkSamples: 4,
		TargetRate:   16000,
		QueueSize:    2,
		OnDrop:       func() { drops.Add(1) },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release()

	capture.Feed(make([]float32, 4*5))
	if got := p.Dropped(); got != 3 {
		t.Fatalf("Dropped = %d, want 3", got)
	}
	if drops.Load() != 3 {
		t.Fatalf("OnDrop called %d times, want 3", drops.Load())
	}
	first := <-p.Chunks()
	second := <-p.Chunks()
	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("queued seqs = %d,%d; want 1,2", first.Seq, second.Seq)
	}
}

func TestPipeline_LostAndRelease(t *testing.T) {
	t.Parallel()
	capture := &mock.Capture{}
	out := &mock.Output{}
	p, err := audio.AcquirePipeline(t.Context(), &mock.Devices{CaptureResult: capture, OutputResult: out}, audio.PipelineConfig{TargetRate: 16000})
	if err != nil {
		t.Fatal(err)
	}

	gone := errors.New("device unplugged")
	capture.Fail(gone)
	capture.Fail(gone)
	select {
	case <-p.Lost():
	default:
		t.Fatal("Lost not closed after device failure")
	}
	if !errors.Is(p.LostErr(), gone) {
		t.Fatalf("LostErr = %v", p.LostErr())
	}

	if err := p.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := p.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if !capture.Closed() || !out.Closed() {
		t.Fatal("devices not closed")
	}
	select {
	case <-p.Done():
	default:
		t.Fatal("Done not closed after Release")
	}
}
