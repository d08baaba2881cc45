package audio

import (
	"math"
	"sync/atomic"
)

// LevelMeter tracks the RMS level of the most recent capture block. Observe
// is called from the capture thread; Level may be read from anywhere.
type LevelMeter struct {
	bits atomic.Uint32
}

// Observe records the RMS of samples.
func (m *LevelMeter) Observe(samples []float32) {
	if len(samples) == 0 {
		return
	}
	m.bits.Store(math.Float32bits(RMS(samples)))
}

// Level returns the last observed RMS in [0, 1].
func (m *LevelMeter) Level() float32 {
	return math.Float32frombits(m.bits.Load())
}

// Reset zeroes the meter.
func (m *LevelMeter) Reset() { m.bits.Store(0) }

// RMS returns the root-mean-square amplitude of samples.
func RMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}
