package config

import (
	"maps"
	"reflect"
)

// ConfigDiff describes what changed between two configs and how each change
// is applied to a running client.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is set when the derived provider session parameters
	// differ. It is applied in-band or by reopening only the session.
	SessionChanged bool

	// PipelineChanged is set when device or capture parameters differ. They
	// take effect at the next pipeline acquisition.
	PipelineChanged bool

	// ProviderChanged is set when a different provider is selected or the
	// selected entry's credentials or endpoint changed. It is applied by
	// disconnecting and connecting with the new provider.
	ProviderChanged bool

	// RestartRequired lists settings that are only read at startup.
	RestartRequired []string
}

// Empty reports whether the diff carries nothing to apply.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SessionChanged && !d.PipelineChanged &&
		!d.ProviderChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and classifies the changes.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.StatusAddr != new.Server.StatusAddr {
		d.RestartRequired = append(d.RestartRequired, "server.status_addr")
	}
	if old.Timing != new.Timing {
		d.RestartRequired = append(d.RestartRequired, "timing")
	}

	oldP, _ := old.SelectedProvider()
	newP, _ := new.SelectedProvider()
	if !sameEntry(oldP, newP) {
		d.ProviderChanged = true
	}

	// A provider switch opens a fresh session with the new parameters, so
	// a separate session update would be redundant.
	if !d.ProviderChanged && old.S2SConfig() != new.S2SConfig() {
		d.SessionChanged = true
	}

	op, np := old.PipelineConfig(), new.PipelineConfig()
	if op.Capture != np.Capture || op.Output != np.Output ||
		op.ChunkSamples != np.ChunkSamples || op.QueueSize != np.QueueSize {
		d.PipelineChanged = true
	}

	return d
}

// sameEntry compares the fields that affect provider construction. Model is
// a session parameter and is covered by the session comparison.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		maps.EqualFunc(a.Options, b.Options, func(x, y any) bool { return reflect.DeepEqual(x, y) })
}
