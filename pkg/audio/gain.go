package audio

// AutoGain is a minimal software automatic gain control. It tracks a
// smoothed window RMS and scales samples toward Target, never exceeding
// MaxGain. Windows quieter than Floor are treated as silence and leave the
// gain untouched so background noise is not amplified.
type AutoGain struct {
	Target  float32
	MaxGain float32
	Floor   float32

	gain float32
}

// NewAutoGain returns an AutoGain tuned for speech.
func NewAutoGain() *AutoGain {
	return &AutoGain{Target: 0.1, MaxGain: 8, Floor: 0.005, gain: 1}
}

// Gain returns the current multiplier.
func (g *AutoGain) Gain() float32 {
	if g.gain == 0 {
		return 1
	}
	return g.gain
}

// Apply scales window in place.
func (g *AutoGain) Apply(window []float32) {
	if g.gain == 0 {
		g.gain = 1
	}
	if rms := RMS(window); rms > g.Floor {
		want := g.Target / rms
		if want > g.MaxGain {
			want = g.MaxGain
		}
		// Attack faster than release.
		k := float32(0.05)
		if want < g.gain {
			k = 0.5
		}
		g.gain += (want - g.gain) * k
	}
	for i, s := range window {
		window[i] = s * g.gain
	}
}
