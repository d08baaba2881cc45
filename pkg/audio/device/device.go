// Package device implements the audio device abstractions on real hardware:
// microphone capture through miniaudio (github.com/gen2brain/malgo) and
// playback through oto (github.com/ebitengine/oto/v3) driving a sample-clock
// mixer.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"

	"github.com/MrWong99/dolmetscher/pkg/audio"
)

var _ audio.Devices = (*Devices)(nil)

// Devices opens malgo capture devices and oto-backed outputs.
//
// oto allows a single context per process, created with the rate and buffer
// size of the first output opened. Later outputs reuse it; the mixer
// converts every buffer to that rate.
type Devices struct {
	malgoOnce sync.Once
	malgoCtx  *malgo.AllocatedContext
	malgoErr  error

	otoOnce sync.Once
	otoCtx  *oto.Context
	otoRate int
	otoErr  error
}

// New returns a Devices. Backends are initialised on first use.
func New() *Devices { return &Devices{} }

func (d *Devices) malgoContext() (*malgo.AllocatedContext, error) {
	d.malgoOnce.Do(func() {
		cfg := malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}
		d.malgoCtx, d.malgoErr = malgo.InitContext(nil, cfg, func(msg string) {
			slog.Debug("malgo", "msg", strings.TrimSpace(msg))
		})
		if d.malgoErr != nil {
			d.malgoErr = fmt.Errorf("device: init capture backend: %w", d.malgoErr)
		}
	})
	return d.malgoCtx, d.malgoErr
}

func (d *Devices) otoContext(ctx context.Context, rate int) (*oto.Context, int, error) {
	d.otoOnce.Do(func() {
		c, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   rate,
			ChannelCount: outputChannels,
			Format:       oto.FormatFloat32LE,
			BufferSize:   outputBuffer,
		})
		if err != nil {
			d.otoErr = fmt.Errorf("device: init playback backend: %w", err)
			return
		}
		select {
		case <-ready:
		case <-ctx.Done():
			d.otoErr = fmt.Errorf("device: init playback backend: %w", ctx.Err())
			return
		}
		d.otoCtx, d.otoRate = c, rate
	})
	return d.otoCtx, d.otoRate, d.otoErr
}

// Close releases the capture backend. The oto context lives for the rest of
// the process.
func (d *Devices) Close() error {
	if d.malgoCtx == nil {
		return nil
	}
	err := d.malgoCtx.Uninit()
	d.malgoCtx.Free()
	d.malgoCtx = nil
	return err
}

// matchDevice returns the index of the first name containing want, compared
// case-insensitively, or -1. An empty want matches nothing so the backend
// default is used.
func matchDevice(names []string, want string) int {
	if want == "" {
		return -1
	}
	want = strings.ToLower(want)
	for i, n := range names {
		if strings.Contains(strings.ToLower(n), want) {
			return i
		}
	}
	return -1
}
