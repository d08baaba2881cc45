package config

import (
	"time"

	"github.com/MrWong99/dolmetscher/pkg/audio"
	"github.com/MrWong99/dolmetscher/pkg/provider/s2s"
)

// S2SConfig returns the provider session parameters for c. Low-latency mode
// caps the silence duration at [DefaultLowLatencySilenceDuration] and turns
// input transcription off.
func (c *Config) S2SConfig() s2s.SessionConfig {
	s := c.Session
	silence := time.Duration(s.SilenceDurationMS) * time.Millisecond
	transcription := isTrue(s.Transcription)
	if s.LowLatency {
		silence = min(silence, DefaultLowLatencySilenceDuration)
		transcription = false
	}

	var model string
	if p, ok := c.SelectedProvider(); ok {
		model = p.Model
	}

	return s2s.SessionConfig{
		Model:          model,
		Instructions:   s.Instructions,
		SourceLanguage: s.SourceLanguage,
		TargetLanguage: s.TargetLanguage,
		Voice:          s.Voice,
		Turn: s2s.TurnDetection{
			SilenceDuration:   silence,
			PrefixPadding:     time.Duration(s.PrefixPaddingMS) * time.Millisecond,
			Threshold:         s.VADThreshold,
			CreateResponse:    true,
			InterruptResponse: true,
		},
		Transcription: transcription,
		LowLatency:    s.LowLatency,
	}
}

// PipelineConfig returns the audio pipeline parameters for c. TargetRate is
// left zero; the coordinator fills it from the provider's capabilities.
// Automatic gain control is forced off in low-latency mode.
func (c *Config) PipelineConfig() audio.PipelineConfig {
	a := c.Audio
	return audio.PipelineConfig{
		Capture: audio.CaptureConfig{
			Device:           a.InputDevice,
			SampleRate:       a.SampleRate,
			EchoCancellation: isTrue(a.EchoCancellation),
			NoiseSuppression: isTrue(a.NoiseSuppression),
			AutoGainControl:  isTrue(a.AutoGainControl) && !c.Session.LowLatency,
		},
		Output: audio.OutputConfig{
			Device:     a.OutputDevice,
			SampleRate: a.OutputSampleRate,
		},
		ChunkSamples: a.ChunkSamples,
		QueueSize:    a.QueueSize,
	}
}
