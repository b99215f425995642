// Package config provides the configuration schema and loader for the
// finvoice voice session client.
package config

import (
	"time"

	"github.com/MrWong99/finvoice/internal/tools"
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

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool { return f == LogFormatText || f == LogFormatJSON }

// Transport selects how the realtime session is carried.
type Transport string

const (
	// TransportWebRTC negotiates a peer connection with audio tracks and a
	// data channel.
	TransportWebRTC Transport = "webrtc"

	// TransportWebSocket carries events over a WebSocket. It has no audio
	// tracks, so sessions are always text-only.
	TransportWebSocket Transport = "websocket"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool { return t == TransportWebRTC || t == TransportWebSocket }

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Agent      AgentConfig      `yaml:"agent"`
	Session    SessionConfig    `yaml:"session"`
	Tools      ToolsConfig      `yaml:"tools"`
	Credential CredentialConfig `yaml:"credential"`
	Profile    ProfileConfig    `yaml:"profile"`
	Transcript TranscriptConfig `yaml:"transcript"`
}

// ServerConfig holds the observability listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics, /healthz and /readyz
	// (e.g. ":9090"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel  LogLevel  `yaml:"log_level"`
	LogFormat LogFormat `yaml:"log_format"`
}

// RealtimeConfig selects and configures the realtime transport.
type RealtimeConfig struct {
	Transport Transport `yaml:"transport"`

	// BaseURL is the signaling (WebRTC) or dial (WebSocket) endpoint. Empty
	// uses the transport's default.
	BaseURL string `yaml:"base_url"`

	Model string `yaml:"model"`

	// ICEServers are STUN/TURN URLs for the WebRTC transport.
	ICEServers []string `yaml:"ice_servers"`

	Capture CaptureConfig `yaml:"capture"`
}

// CaptureConfig controls microphone capture for the WebRTC transport.
type CaptureConfig struct {
	// Disabled skips the microphone and sends a silent track.
	Disabled bool `yaml:"disabled"`

	EchoCancellation *bool `yaml:"echo_cancellation"`
	NoiseSuppression *bool `yaml:"noise_suppression"`
	AutoGainControl  *bool `yaml:"auto_gain_control"`
}

// AgentConfig points at the agent script.
type AgentConfig struct {
	// Script is the path of the agent YAML file.
	Script string `yaml:"script"`
}

// SessionConfig overrides the session.update defaults.
type SessionConfig struct {
	// Voice overrides the voice declared by the agent script.
	Voice              string   `yaml:"voice"`
	Modalities         []string `yaml:"modalities"`
	TranscriptionModel string   `yaml:"transcription_model"`

	// NoiseReduction is "near_field", "far_field" or "none".
	NoiseReduction string   `yaml:"noise_reduction"`
	Temperature    *float64 `yaml:"temperature"`

	// TurnDetection disables server VAD when Enabled is false.
	TurnDetection *TurnDetectionConfig `yaml:"turn_detection"`

	// FlushTimeout bounds the transcript submission on disconnect.
	FlushTimeout time.Duration `yaml:"flush_timeout"`

	// Glossary lists domain terms that misheard user transcriptions are
	// corrected to, e.g. broker or fund names.
	Glossary []string `yaml:"glossary"`
}

// TurnDetectionConfig tunes server VAD.
type TurnDetectionConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Threshold         float64 `yaml:"threshold"`
	PrefixPaddingMs   int     `yaml:"prefix_padding_ms"`
	SilenceDurationMs int     `yaml:"silence_duration_ms"`
}

// ToolsConfig configures tool execution.
type ToolsConfig struct {
	// Timeout bounds a single tool handler invocation.
	Timeout time.Duration `yaml:"timeout"`

	WebSearch WebSearchConfig `yaml:"web_search"`

	// MCPServers back agent tools with tools served over MCP.
	MCPServers []tools.MCPServer `yaml:"mcp_servers"`
}

// WebSearchConfig enables the built-in web_search handler.
type WebSearchConfig struct {
	// APIKey enables the handler. Without it web_search uses the fallback.
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	MaxResults int    `yaml:"max_results"`
}

// CredentialConfig locates the tokens left by the login flow.
type CredentialConfig struct {
	// Dir is the token directory of the file store. Empty uses the user
	// config directory.
	Dir string `yaml:"dir"`

	// SessionURL is an optional backend endpoint minting ephemeral realtime
	// tokens, tried after the environment and the token directory.
	SessionURL string `yaml:"session_url"`
}

// ProfileConfig configures the user profile service.
type ProfileConfig struct {
	// BaseURL of the backend API. Empty disables profile refresh.
	BaseURL string `yaml:"base_url"`

	Cache ProfileCacheConfig `yaml:"cache"`
}

// ProfileCacheConfig selects where the last good profile is kept. With
// neither field set the cache lives in memory.
type ProfileCacheConfig struct {
	File     string        `yaml:"file"`
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// TranscriptConfig selects where finished transcripts are submitted. With
// neither field set transcripts are discarded.
type TranscriptConfig struct {
	HTTPURL     string `yaml:"http_url"`
	PostgresDSN string `yaml:"postgres_dsn"`
}
