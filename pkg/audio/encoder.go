package audio

import (
	"fmt"
)

// DefaultChunkSamples is the capacity of the encoder's ring buffer when no
// explicit size is configured. At 48 kHz this is roughly 43 ms of audio.
const DefaultChunkSamples = 2048

// EncoderConfig parameterises an [Encoder].
type EncoderConfig struct {
	// ChunkSamples is the ring capacity in capture-rate samples. One chunk is
	// emitted each time the ring fills.
	ChunkSamples int

	// InputRate is the actual capture rate reported by the device.
	InputRate int

	// TargetRate is the sample rate the provider expects.
	TargetRate int

	// Gain, when set, is applied to each window before resampling.
	Gain *AutoGain

	// Level, when set, receives the RMS of every captured block.
	Level *LevelMeter
}

// Encoder is the downsampling/encoding stage. It accumulates captured mono
// samples in a fixed ring and, once the ring is full, resamples it to the
// target rate, converts to PCM16 and hands the result to the emit callback.
//
// Write is meant to be called from the capture callback. An Encoder has a
// single writer and is not safe for concurrent use. Apart from the emitted
// payload, whose ownership passes to the callback, Write does not allocate.
type Encoder struct {
	ring    []float32
	fill    int
	scratch []float32

	inRate  int
	outRate int
	mime    string
	seq     uint64

	gain  *AutoGain
	level *LevelMeter
	emit  func(EncodedChunk)
}

// NewEncoder builds an encoder. emit is invoked synchronously from Write and
// must not block.
func NewEncoder(cfg EncoderConfig, emit func(EncodedChunk)) (*Encoder, error) {
	if cfg.ChunkSamples <= 0 {
		cfg.ChunkSamples = DefaultChunkSamples
	}
	if cfg.InputRate <= 0 || cfg.TargetRate <= 0 {
		return nil, fmt.Errorf("audio: new encoder: invalid rates %d -> %d", cfg.InputRate, cfg.TargetRate)
	}
	if emit == nil {
		return nil, fmt.Errorf("audio: new encoder: emit callback is nil")
	}
	e := &Encoder{
		ring:    make([]float32, cfg.ChunkSamples),
		inRate:  cfg.InputRate,
		outRate: cfg.TargetRate,
		mime:    PCMMIMEType(cfg.TargetRate),
		gain:    cfg.Gain,
		level:   cfg.Level,
		emit:    emit,
	}
	if cfg.InputRate != cfg.TargetRate {
		e.scratch = make([]float32, ResampledLen(cfg.ChunkSamples, cfg.InputRate, cfg.TargetRate))
	}
	return e, nil
}

// ChunkSamples returns the number of target-rate samples in every emitted chunk.
func (e *Encoder) ChunkSamples() int {
	return ResampledLen(len(e.ring), e.inRate, e.outRate)
}

// Write appends captured samples to the ring, emitting one chunk every time
// it fills. An empty block is skipped.
func (e *Encoder) Write(samples []float32) {
	if len(samples) == 0 {
		return
	}
	if e.level != nil {
		e.level.Observe(samples)
	}
	for len(samples) > 0 {
		n := copy(e.ring[e.fill:], samples)
		e.fill += n
		samples = samples[n:]
		if e.fill == len(e.ring) {
			e.flush()
			e.fill = 0
		}
	}
}

// Reset discards any partially filled window.
func (e *Encoder) Reset() {
	e.fill = 0
}

func (e *Encoder) flush() {
	if e.gain != nil {
		e.gain.Apply(e.ring)
	}
	out := e.ring
	if e.scratch != nil {
		out = Resample(e.scratch, e.ring, e.inRate, e.outRate)
	}
	payload := make([]byte, len(out)*2)
	EncodePCM16(payload, out)
	e.seq++
	e.emit(EncodedChunk{Data: payload, SampleRate: e.outRate, MIMEType: e.mime, Seq: e.seq})
}
