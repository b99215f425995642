package config

import (
	"maps"
	"slices"
)

// ConfigDiff describes what changed between two configs. Only the log level
// can be applied to a running process; every other change is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool { return d.LogLevelChanged || len(d.RestartRequired) > 0 }

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if oldServer != newServer {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !realtimeEqual(old.Realtime, new.Realtime) {
		d.RestartRequired = append(d.RestartRequired, "realtime")
	}
	if old.Agent != new.Agent {
		d.RestartRequired = append(d.RestartRequired, "agent")
	}
	if !sessionEqual(old.Session, new.Session) {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	if !toolsEqual(old.Tools, new.Tools) {
		d.RestartRequired = append(d.RestartRequired, "tools")
	}
	if old.Credential != new.Credential {
		d.RestartRequired = append(d.RestartRequired, "credential")
	}
	if old.Profile != new.Profile {
		d.RestartRequired = append(d.RestartRequired, "profile")
	}
	if old.Transcript != new.Transcript {
		d.RestartRequired = append(d.RestartRequired, "transcript")
	}
	return d
}

func realtimeEqual(a, b RealtimeConfig) bool {
	return a.Transport == b.Transport &&
		a.BaseURL == b.BaseURL &&
		a.Model == b.Model &&
		slices.Equal(a.ICEServers, b.ICEServers) &&
		a.Capture.Disabled == b.Capture.Disabled &&
		boolPtrEqual(a.Capture.EchoCancellation, b.Capture.EchoCancellation) &&
		boolPtrEqual(a.Capture.NoiseSuppression, b.Capture.NoiseSuppression) &&
		boolPtrEqual(a.Capture.AutoGainControl, b.Capture.AutoGainControl)
}

func sessionEqual(a, b SessionConfig) bool {
	if a.Voice != b.Voice || a.TranscriptionModel != b.TranscriptionModel ||
		a.NoiseReduction != b.NoiseReduction || a.FlushTimeout != b.FlushTimeout ||
		!slices.Equal(a.Modalities, b.Modalities) || !slices.Equal(a.Glossary, b.Glossary) {
		return false
	}
	if (a.Temperature == nil) != (b.Temperature == nil) || (a.Temperature != nil && *a.Temperature != *b.Temperature) {
		return false
	}
	if (a.TurnDetection == nil) != (b.TurnDetection == nil) {
		return false
	}
	return a.TurnDetection == nil || *a.TurnDetection == *b.TurnDetection
}

func toolsEqual(a, b ToolsConfig) bool {
	if a.Timeout != b.Timeout || a.WebSearch != b.WebSearch || len(a.MCPServers) != len(b.MCPServers) {
		return false
	}
	for i := range a.MCPServers {
		x, y := a.MCPServers[i], b.MCPServers[i]
		if x.Name != y.Name || x.Transport != y.Transport || x.Command != y.Command || x.URL != y.URL {
			return false
		}
		if !maps.Equal(x.Env, y.Env) {
			return false
		}
	}
	return true
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
