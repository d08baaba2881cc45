// Package mixer provides a sample-clock [audio.Output]. Buffers are placed at
// absolute frame positions on a virtual clock that advances only as the
// device pulls rendered audio through [Mixer.Read], so scheduling is exact to
// the sample regardless of wall-clock jitter.
package mixer

import (
	"container/heap"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/dolmetscher/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Output = (*Mixer)(nil)

// ErrClosed is returned by [Mixer.Play] after [Mixer.Close].
var ErrClosed = errors.New("mixer: closed")

// defaultQueueCap is the initial capacity hint for the pending queue.
const defaultQueueCap = 16

// Option configures a [Mixer] during construction.
type Option func(*Mixer)

// WithQueueCapacity sets the initial capacity hint for the pending queue.
// This does not impose a hard limit; the queue grows as needed.
func WithQueueCapacity(n int) Option {
	return func(m *Mixer) {
		if n > 0 {
			m.pending = make(voiceHeap, 0, n)
		}
	}
}

// Mixer sums scheduled voices into a single interleaved float stream at a
// fixed device rate and channel count.
//
// All exported methods are safe for concurrent use.
type Mixer struct {
	rate     int
	channels int

	mu      sync.Mutex
	frame   int64 // frames rendered so far; the device clock
	pending voiceHeap
	active  []*voice
	seq     uint64
	scratch []float32
	closed  bool
}

// New creates a Mixer rendering at rate Hz with the given channel count.
func New(rate, channels int, opts ...Option) *Mixer {
	if channels <= 0 {
		channels = 1
	}
	m := &Mixer{
		rate:     rate,
		channels: channels,
		pending:  make(voiceHeap, 0, defaultQueueCap),
	}
	for _, o := range opts {
		o(m)
	}
	heap.Init(&m.pending)
	return m
}

// SampleRate returns the render rate.
func (m *Mixer) SampleRate() int { return m.rate }

// Channels returns the render channel count.
func (m *Mixer) Channels() int { return m.channels }

// Now returns the position of the sample clock.
func (m *Mixer) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frameToDur(m.frame)
}

// Play schedules buf to start at device time at. The buffer is converted to
// the mixer's rate and channel layout up front.
func (m *Mixer) Play(buf *audio.Buffer, at time.Duration, onEnded func()) (audio.Voice, error) {
	if buf == nil || buf.Frames() == 0 {
		return nil, audio.ErrEmptyPCM
	}
	samples := m.convert(buf)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	start := m.durToFrame(at)
	if start < m.frame {
		start = m.frame
	}
	m.seq++
	v := &voice{
		m:       m,
		samples: samples,
		frames:  int64(len(samples) / m.channels),
		start:   start,
		seq:     m.seq,
		onEnded: onEnded,
	}
	heap.Push(&m.pending, v)
	m.mu.Unlock()
	return v, nil
}

// Read renders len(p)/(4*channels) frames of float32 little-endian audio into
// p and advances the clock. It never blocks and never fails; gaps are
// rendered as silence. Read makes Mixer an io.Reader suitable for oto.
func (m *Mixer) Read(p []byte) (int, error) {
	frameBytes := 4 * m.channels
	n := len(p) / frameBytes
	if n == 0 {
		return 0, nil
	}

	m.mu.Lock()
	if cap(m.scratch) < n*m.channels {
		m.scratch = make([]float32, n*m.channels)
	}
	buf := m.scratch[:n*m.channels]
	ended := m.renderLocked(buf)
	m.mu.Unlock()

	for i, s := range buf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(s))
	}
	for _, f := range ended {
		f()
	}
	return n * frameBytes, nil
}

// Render mixes len(dst)/channels frames into dst and advances the clock.
func (m *Mixer) Render(dst []float32) {
	m.mu.Lock()
	ended := m.renderLocked(dst)
	m.mu.Unlock()
	for _, f := range ended {
		f()
	}
}

// Active returns the number of voices scheduled or playing.
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active) + m.pending.Len()
}

// Close stops every voice and rejects further Play calls. Close is
// idempotent.
func (m *Mixer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, v := range m.active {
		v.stopped = true
	}
	for _, v := range m.pending {
		v.stopped = true
	}
	m.active = nil
	m.pending = m.pending[:0]
	return nil
}

// renderLocked must be called with m.mu held. It returns the completion
// callbacks of voices that finished inside this window; the caller invokes
// them after unlocking.
func (m *Mixer) renderLocked(dst []float32) []func() {
	clear(dst)
	n := int64(len(dst) / m.channels)
	end := m.frame + n

	for m.pending.Len() > 0 && m.pending[0].start < end {
		v := heap.Pop(&m.pending).(*voice)
		if !v.stopped {
			m.active = append(m.active, v)
		}
	}

	var ended []func()
	kept := m.active[:0]
	for _, v := range m.active {
		if v.stopped {
			continue
		}
		from := max(v.start, m.frame)
		to := min(v.start+v.frames, end)
		if to > from {
			src := v.samples[(from-v.start)*int64(m.channels) : (to-v.start)*int64(m.channels)]
			out := dst[(from-m.frame)*int64(m.channels):]
			for i, s := range src {
				out[i] += s
			}
		}
		if v.start+v.frames <= end {
			v.stopped = true
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	clear(m.active[len(kept):])
	m.active = kept
	m.frame = end
	return ended
}

// convert resamples buf to the mixer rate and maps its channels onto the
// mixer layout.
func (m *Mixer) convert(buf *audio.Buffer) []float32 {
	b := audio.ResampleBuffer(buf, m.rate)
	if b.Channels == m.channels {
		out := make([]float32, len(b.Samples))
		copy(out, b.Samples)
		return out
	}
	frames := b.Frames()
	out := make([]float32, frames*m.channels)
	for f := range frames {
		var mono float32
		for c := range b.Channels {
			mono += b.Samples[f*b.Channels+c]
		}
		mono /= float32(b.Channels)
		for c := range m.channels {
			out[f*m.channels+c] = mono
		}
	}
	return out
}

func (m *Mixer) frameToDur(f int64) time.Duration {
	if m.rate <= 0 {
		return 0
	}
	return time.Duration(f) * time.Second / time.Duration(m.rate)
}

func (m *Mixer) durToFrame(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d*time.Duration(m.rate) + time.Second/2) / time.Second)
}

// voice is one scheduled buffer.
type voice struct {
	m       *Mixer
	samples []float32
	frames  int64
	start   int64
	seq     uint64
	onEnded func()
	stopped bool
}

// Stop silences the voice. A voice still in the pending queue is skipped
// when it comes due.
func (v *voice) Stop() {
	v.m.mu.Lock()
	v.stopped = true
	v.m.mu.Unlock()
}
