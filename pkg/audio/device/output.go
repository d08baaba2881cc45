package device

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/dolmetscher/pkg/audio"
	"github.com/MrWong99/dolmetscher/pkg/audio/mixer"
)

const (
	outputChannels = 1

	// outputBuffer is oto's device buffer. Smaller values cut latency and
	// risk underruns.
	outputBuffer = 40 * time.Millisecond

	// playerBufferBytes bounds how far the player reads ahead of the device,
	// which is also how far the mixer clock leads audible output.
	playerBufferBytes = 4096
)

// OpenOutput opens a playback output. cfg.Device is ignored; oto always
// plays on the system default device.
func (d *Devices) OpenOutput(ctx context.Context, cfg audio.OutputConfig) (audio.Output, error) {
	if cfg.Device != "" {
		slog.Warn("device: output selection is not supported, using system default", "want", cfg.Device)
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 48000
	}
	octx, granted, err := d.otoContext(ctx, rate)
	if err != nil {
		return nil, err
	}
	if granted != rate {
		slog.Info("device: playback context already open at another rate", "want", rate, "rate", granted)
	}

	m := mixer.New(granted, outputChannels)
	p := octx.NewPlayer(m)
	p.SetBufferSize(playerBufferBytes)
	p.Play()

	return &output{Mixer: m, player: p}, nil
}

// output is a mixer driven by an oto player. The mixer's sample clock is the
// device clock.
type output struct {
	*mixer.Mixer

	player *oto.Player
	once   sync.Once
}

func (o *output) Close() error {
	var err error
	o.once.Do(func() {
		o.player.Pause()
		err = o.player.Close()
		if cerr := o.Mixer.Close(); err == nil {
			err = cerr
		}
	})
	return err
}
