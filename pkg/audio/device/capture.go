package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/dolmetscher/pkg/audio"
)

// capturePeriodMS is the requested callback period.
const capturePeriodMS = 20

// processingOnce reports unsupported capture processing once per process.
var processingOnce sync.Once

// OpenCapture opens a mono float32 microphone. cfg.Device selects the first
// input whose name contains it; empty or unmatched selects the default.
func (d *Devices) OpenCapture(ctx context.Context, cfg audio.CaptureConfig) (audio.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mctx, err := d.malgoContext()
	if err != nil {
		return nil, err
	}

	dc := malgo.DefaultDeviceConfig(malgo.Capture)
	dc.Capture.Format = malgo.FormatF32
	dc.Capture.Channels = 1
	dc.SampleRate = uint32(cfg.SampleRate)
	dc.PeriodSizeInMilliseconds = capturePeriodMS

	if cfg.Device != "" {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			return nil, fmt.Errorf("device: list inputs: %w", err)
		}
		names := make([]string, len(infos))
		for i := range infos {
			names[i] = infos[i].Name()
		}
		if i := matchDevice(names, cfg.Device); i >= 0 {
			dc.Capture.DeviceID = infos[i].ID.Pointer()
			slog.Info("device: using input", "name", names[i])
		} else {
			slog.Warn("device: input not found, using default", "want", cfg.Device, "available", names)
		}
	}

	if cfg.EchoCancellation || cfg.NoiseSuppression {
		processingOnce.Do(func() {
			slog.Warn("device: echo cancellation and noise suppression are not available on this backend; use a headset",
				"echo_cancellation", cfg.EchoCancellation,
				"noise_suppression", cfg.NoiseSuppression,
			)
		})
	}

	c := &capture{}
	dev, err := malgo.InitDevice(mctx.Context, dc, malgo.DeviceCallbacks{
		Data: c.onData,
		Stop: c.onStop,
	})
	if err != nil {
		return nil, fmt.Errorf("device: open input: %w", err)
	}
	c.dev = dev
	return c, nil
}

// capture adapts a malgo device to [audio.Capture].
type capture struct {
	dev *malgo.Device

	mu      sync.Mutex
	onBlock func([]float32)
	onEnd   func(error)
	closed  bool
	stopped bool

	// scratch is only touched on the device thread.
	scratch []float32
}

func (c *capture) SampleRate() int { return int(c.dev.SampleRate()) }

func (c *capture) Start(onData func([]float32), onStop func(error)) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("device: capture closed")
	}
	c.onBlock, c.onEnd = onData, onStop
	c.mu.Unlock()

	if err := c.dev.Start(); err != nil {
		return fmt.Errorf("device: start input: %w", err)
	}
	return nil
}

func (c *capture) onData(_, in []byte, frames uint32) {
	c.mu.Lock()
	fn := c.onBlock
	c.mu.Unlock()
	if fn == nil {
		return
	}
	n := int(frames)
	if n*4 > len(in) {
		n = len(in) / 4
	}
	if cap(c.scratch) < n {
		c.scratch = make([]float32, n)
	}
	fn(decodeF32(c.scratch[:n], in))
}

// onStop fires when the device stops, including after our own Stop. Only an
// unrequested stop is reported.
func (c *capture) onStop() {
	c.mu.Lock()
	if c.closed || c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	fn := c.onEnd
	c.mu.Unlock()
	if fn != nil {
		fn(errors.New("device: input stopped unexpectedly"))
	}
}

func (c *capture) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.dev.Stop()
	c.dev.Uninit()
	return err
}

// decodeF32 decodes little-endian float32 samples from src into dst and
// returns dst.
func decodeF32(dst []float32, src []byte) []float32 {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	return dst
}
