// Package config provides the configuration schema, loader, file watcher and
// provider registry for the Dolmetscher translation client.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l onto an [slog.Level]. Unknown and empty levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultSilenceDuration           = 500 * time.Millisecond
	DefaultLowLatencySilenceDuration = 200 * time.Millisecond
	DefaultPrefixPadding             = 300 * time.Millisecond
	DefaultVADThreshold              = 0.5
	DefaultCaptureSampleRate         = 48000
	DefaultOutputSampleRate          = 48000
	DefaultChunkSamples              = 2048
	DefaultQueueSize                 = 32
	DefaultReconnectBackoff          = 2 * time.Second
	DefaultWatchdogInterval          = 5 * time.Second
	DefaultWatchdogTimeout           = 15 * time.Second
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers []ProviderEntry `yaml:"providers"`
	Session   SessionConfig   `yaml:"session"`
	Audio     AudioConfig     `yaml:"audio"`
	Timing    TimingConfig    `yaml:"timing"`
}

// ServerConfig holds logging and status server settings.
type ServerConfig struct {
	LogLevel LogLevel `yaml:"log_level"`

	// StatusAddr is the listen address of the optional HTTP status server
	// (/healthz, /readyz, /metrics, /status). Empty disables it.
	StatusAddr string `yaml:"status_addr"`
}

// ProviderEntry configures one speech-to-speech provider. Name selects the
// constructor in the [Registry].
type ProviderEntry struct {
	// Name is the registry name, e.g. "gemini-live" or "openai-webrtc".
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. A value of the form
	// ${VAR} is expanded from the environment at load time.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values, e.g. ice_servers for
	// openai-webrtc.
	Options map[string]any `yaml:"options"`
}

// SessionConfig holds the translation session parameters. Changes to any of
// them are applied to the running session without touching the audio
// pipeline.
type SessionConfig struct {
	// Provider names the entry in Providers to use. May be omitted when
	// exactly one provider is configured.
	Provider string `yaml:"provider"`

	SourceLanguage string `yaml:"source_language"`
	TargetLanguage string `yaml:"target_language"`

	// Instructions overrides the translation prompt built from the language
	// pair.
	Instructions string `yaml:"instructions"`

	Voice string `yaml:"voice"`

	// LowLatency shortens end-of-turn detection and disables input
	// transcription and automatic gain control.
	LowLatency bool `yaml:"low_latency"`

	SilenceDurationMS int     `yaml:"silence_duration_ms"`
	PrefixPaddingMS   int     `yaml:"prefix_padding_ms"`
	VADThreshold      float64 `yaml:"vad_threshold"`

	// Transcription enables live input transcripts. Default true.
	Transcription *bool `yaml:"transcription"`
}

// AudioConfig selects the local devices and capture processing.
type AudioConfig struct {
	// InputDevice and OutputDevice are name substrings; empty selects the
	// system default.
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`

	// SampleRate is the requested capture rate. The device may grant another.
	SampleRate       int `yaml:"sample_rate"`
	OutputSampleRate int `yaml:"output_sample_rate"`

	// ChunkSamples is the number of capture-rate samples per outbound chunk.
	ChunkSamples int `yaml:"chunk_samples"`

	// QueueSize bounds the outbound chunk queue.
	QueueSize int `yaml:"queue_size"`

	// Processing requests, all default true. Backends without support ignore
	// them.
	EchoCancellation *bool `yaml:"echo_cancellation"`
	NoiseSuppression *bool `yaml:"noise_suppression"`
	AutoGainControl  *bool `yaml:"auto_gain_control"`
}

// TimingConfig holds the coordinator's liveness and retry timings.
type TimingConfig struct {
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
	WatchdogTimeout  time.Duration `yaml:"watchdog_timeout"`
}

// ApplyDefaults fills unset fields with their defaults. It is idempotent.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	s := &cfg.Session
	if s.SilenceDurationMS == 0 {
		s.SilenceDurationMS = int(DefaultSilenceDuration / time.Millisecond)
	}
	if s.PrefixPaddingMS == 0 {
		s.PrefixPaddingMS = int(DefaultPrefixPadding / time.Millisecond)
	}
	if s.VADThreshold == 0 {
		s.VADThreshold = DefaultVADThreshold
	}
	defaultTrue(&s.Transcription)

	a := &cfg.Audio
	if a.SampleRate == 0 {
		a.SampleRate = DefaultCaptureSampleRate
	}
	if a.OutputSampleRate == 0 {
		a.OutputSampleRate = DefaultOutputSampleRate
	}
	if a.ChunkSamples == 0 {
		a.ChunkSamples = DefaultChunkSamples
	}
	if a.QueueSize == 0 {
		a.QueueSize = DefaultQueueSize
	}
	defaultTrue(&a.EchoCancellation)
	defaultTrue(&a.NoiseSuppression)
	defaultTrue(&a.AutoGainControl)

	t := &cfg.Timing
	if t.ReconnectBackoff == 0 {
		t.ReconnectBackoff = DefaultReconnectBackoff
	}
	if t.WatchdogInterval == 0 {
		t.WatchdogInterval = DefaultWatchdogInterval
	}
	if t.WatchdogTimeout == 0 {
		t.WatchdogTimeout = DefaultWatchdogTimeout
	}
}

func defaultTrue(b **bool) {
	if *b == nil {
		v := true
		*b = &v
	}
}

func isTrue(b *bool) bool { return b == nil || *b }

// SelectedProvider returns the provider entry named by session.provider, or
// the only configured entry when the session does not name one.
func (c *Config) SelectedProvider() (ProviderEntry, bool) {
	name := c.Session.Provider
	if name == "" {
		if len(c.Providers) == 1 {
			return c.Providers[0], true
		}
		return ProviderEntry{}, false
	}
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderEntry{}, false
}
