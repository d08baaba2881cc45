package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the number of encoded chunks buffered between the
// capture thread and the network sender.
const DefaultQueueSize = 32

// PipelineConfig describes the local audio resource acquired on connect.
type PipelineConfig struct {
	Capture CaptureConfig
	Output  OutputConfig

	// ChunkSamples is the encoder ring capacity at the capture rate.
	ChunkSamples int

	// TargetRate is the provider's input sample rate.
	TargetRate int

	// QueueSize bounds the outbound chunk queue.
	QueueSize int

	// OnDrop is called from the capture thread when the queue is full and a
	// chunk is discarded. It must not block.
	OnDrop func()
}

// Pipeline is the acquired audio resource: an open microphone feeding the
// encoding stage, plus the playback device. It is built once per connect
// and survives session reconnects.
type Pipeline struct {
	capture Capture
	output  Output
	encoder *Encoder

	chunks chan EncodedChunk
	level  LevelMeter
	onDrop func()

	dropped atomic.Uint64
	lost    chan struct{}
	lostErr error
	lostMu  sync.Mutex
	lostOne sync.Once

	done    chan struct{}
	release sync.Once
}

// AcquirePipeline opens the output and capture devices and starts the
// encoding stage. The encoder's input rate is the rate the capture device
// actually granted. On any failure every partially acquired device is
// released before returning.
func AcquirePipeline(ctx context.Context, devs Devices, cfg PipelineConfig) (*Pipeline, error) {
	if cfg.TargetRate <= 0 {
		return nil, fmt.Errorf("audio: acquire pipeline: invalid target rate %d", cfg.TargetRate)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	out, err := devs.OpenOutput(ctx, cfg.Output)
	if err != nil {
		return nil, fmt.Errorf("audio: acquire pipeline: open output: %w", err)
	}
	capture, err := devs.OpenCapture(ctx, cfg.Capture)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("audio: acquire pipeline: open capture: %w", err), out.Close())
	}

	p := &Pipeline{
		capture: capture,
		output:  out,
		chunks:  make(chan EncodedChunk, cfg.QueueSize),
		onDrop:  cfg.OnDrop,
		lost:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	var gain *AutoGain
	if cfg.Capture.AutoGainControl {
		gain = NewAutoGain()
	}
	p.encoder, err = NewEncoder(EncoderConfig{
		ChunkSamples: cfg.ChunkSamples,
		InputRate:    capture.SampleRate(),
		TargetRate:   cfg.TargetRate,
		Gain:         gain,
		Level:        &p.level,
	}, p.enqueue)
	if err != nil {
		return nil, errors.Join(err, capture.Close(), out.Close())
	}

	if err := capture.Start(p.encoder.Write, p.markLost); err != nil {
		return nil, errors.Join(fmt.Errorf("audio: acquire pipeline: start capture: %w", err), capture.Close(), out.Close())
	}

	slog.Info("audio pipeline acquired",
		"capture_rate", capture.SampleRate(),
		"target_rate", cfg.TargetRate,
		"chunk_samples", p.encoder.ChunkSamples(),
		"agc", gain != nil,
	)
	return p, nil
}

// enqueue runs on the capture thread. It never blocks.
func (p *Pipeline) enqueue(c EncodedChunk) {
	select {
	case p.chunks <- c:
	default:
		p.dropped.Add(1)
		if p.onDrop != nil {
			p.onDrop()
		}
	}
}

func (p *Pipeline) markLost(err error) {
	p.lostOne.Do(func() {
		p.lostMu.Lock()
		p.lostErr = err
		p.lostMu.Unlock()
		close(p.lost)
	})
}

// Chunks returns the FIFO of encoded chunks in capture order. The channel is
// never closed; select on [Pipeline.Done] to stop reading.
func (p *Pipeline) Chunks() <-chan EncodedChunk { return p.chunks }

// Output returns the playback device.
func (p *Pipeline) Output() Output { return p.output }

// Level returns the RMS of the last captured block.
func (p *Pipeline) Level() float32 { return p.level.Level() }

// Dropped returns how many chunks were discarded because the queue was full.
func (p *Pipeline) Dropped() uint64 { return p.dropped.Load() }

// Lost is closed when the capture device stops on its own.
func (p *Pipeline) Lost() <-chan struct{} { return p.lost }

// LostErr returns the error reported when the device stopped, if any.
func (p *Pipeline) LostErr() error {
	p.lostMu.Lock()
	defer p.lostMu.Unlock()
	return p.lostErr
}

// Done is closed by [Pipeline.Release].
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Release closes both devices. Every step runs even if an earlier one fails;
// the joined error is returned for logging. Release is idempotent.
func (p *Pipeline) Release() error {
	var err error
	p.release.Do(func() {
		close(p.done)
		err = errors.Join(p.capture.Close(), p.output.Close())
		p.level.Reset()
		slog.Info("audio pipeline released", "dropped_chunks", p.dropped.Load())
	})
	return err
}
