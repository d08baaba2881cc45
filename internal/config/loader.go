package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// KnownProviders lists the provider names shipped with Dolmetscher. [Validate]
// warns about names outside this list; they may still be registered by a
// custom build.
var KnownProviders = []string{"gemini-live", "openai-webrtc"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment
// references in credentials, applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = expandEnv(cfg.Providers[i].APIKey)
		cfg.Providers[i].BaseURL = expandEnv(cfg.Providers[i].BaseURL)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv replaces ${VAR} references with the environment value. Bare $VAR
// is left alone so keys containing a dollar sign survive.
func expandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(name string) string {
		return os.Getenv(name)
	})
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	seen := make(map[string]int, len(cfg.Providers))
	for i, p := range cfg.Providers {
		prefix := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[p.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers[%d]", prefix, p.Name, prev))
		}
		seen[p.Name] = i
		warnUnknownProvider(p.Name)
		if p.APIKey == "" {
			slog.Warn("provider has no api_key; session opens will likely be rejected", "provider", p.Name)
		}
	}

	switch {
	case len(cfg.Providers) == 0:
		errs = append(errs, errors.New("providers: at least one provider is required"))
	case cfg.Session.Provider == "" && len(cfg.Providers) > 1:
		errs = append(errs, errors.New("session.provider is required when more than one provider is configured"))
	case cfg.Session.Provider != "":
		if _, ok := seen[cfg.Session.Provider]; !ok {
			errs = append(errs, fmt.Errorf("session.provider %q does not name a configured provider", cfg.Session.Provider))
		}
	}

	s := cfg.Session
	if s.TargetLanguage == "" && s.Instructions == "" {
		errs = append(errs, errors.New("session.target_language is required unless session.instructions is set"))
	}
	if s.SilenceDurationMS < 0 {
		errs = append(errs, fmt.Errorf("session.silence_duration_ms %d must not be negative", s.SilenceDurationMS))
	}
	if s.PrefixPaddingMS < 0 {
		errs = append(errs, fmt.Errorf("session.prefix_padding_ms %d must not be negative", s.PrefixPaddingMS))
	}
	if s.VADThreshold < 0 || s.VADThreshold > 1 {
		errs = append(errs, fmt.Errorf("session.vad_threshold %.2f is out of range [0, 1]", s.VADThreshold))
	}

	a := cfg.Audio
	if a.SampleRate < 0 || a.OutputSampleRate < 0 {
		errs = append(errs, errors.New("audio sample rates must not be negative"))
	}
	if a.ChunkSamples < 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_samples %d must not be negative", a.ChunkSamples))
	}
	if a.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("audio.queue_size %d must not be negative", a.QueueSize))
	}

	t := cfg.Timing
	if t.ReconnectBackoff < 0 || t.WatchdogInterval < 0 || t.WatchdogTimeout < 0 {
		errs = append(errs, errors.New("timing values must not be negative"))
	}
	if t.WatchdogInterval > 0 && t.WatchdogTimeout > 0 && t.WatchdogTimeout < t.WatchdogInterval {
		errs = append(errs, fmt.Errorf("timing.watchdog_timeout %s is shorter than timing.watchdog_interval %s", t.WatchdogTimeout, t.WatchdogInterval))
	}

	return errors.Join(errs...)
}

func warnUnknownProvider(name string) {
	if slices.Contains(KnownProviders, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a custom provider",
		"name", name,
		"known", KnownProviders,
	)
}
