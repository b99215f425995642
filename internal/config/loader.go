package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/finvoice/internal/tools"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultModel        = "gpt-4o-realtime-preview-2024-12-17"
	DefaultToolTimeout  = 30 * time.Second
	DefaultFlushTimeout = 10 * time.Second
	DefaultProfileTTL   = 30 * time.Minute
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FINVOICE_"

var validNoiseReduction = []string{"near_field", "far_field", "none"}

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := prepare(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Environment overrides are not applied.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := prepare(cfg, nil); err != nil {
		return nil, err
	}
	return cfg, nil
}

// prepare applies overrides from lookup (when non-nil) and defaults, then
// validates.
func prepare(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup != nil {
		ApplyEnv(cfg, lookup)
	}
	ApplyDefaults(cfg)
	return Validate(cfg)
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides secrets and deployment-specific values from the
// environment. lookup is normally [os.LookupEnv].
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	set("LOG_LEVEL", (*string)(&cfg.Server.LogLevel))
	set("LISTEN_ADDR", &cfg.Server.ListenAddr)
	set("REALTIME_BASE_URL", &cfg.Realtime.BaseURL)
	set("REALTIME_MODEL", &cfg.Realtime.Model)
	set("WEB_SEARCH_API_KEY", &cfg.Tools.WebSearch.APIKey)
	set("PROFILE_BASE_URL", &cfg.Profile.BaseURL)
	set("PROFILE_REDIS_URL", &cfg.Profile.Cache.RedisURL)
	set("TRANSCRIPT_URL", &cfg.Transcript.HTTPURL)
	set("TRANSCRIPT_POSTGRES_DSN", &cfg.Transcript.PostgresDSN)
	set("CREDENTIAL_SESSION_URL", &cfg.Credential.SessionURL)
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Realtime.Transport == "" {
		cfg.Realtime.Transport = TransportWebRTC
	}
	if cfg.Realtime.Model == "" {
		cfg.Realtime.Model = DefaultModel
	}
	if cfg.Tools.Timeout == 0 {
		cfg.Tools.Timeout = DefaultToolTimeout
	}
	if cfg.Session.FlushTimeout == 0 {
		cfg.Session.FlushTimeout = DefaultFlushTimeout
	}
	if cfg.Profile.Cache.TTL == 0 {
		cfg.Profile.Cache.TTL = DefaultProfileTTL
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Realtime
	if cfg.Realtime.Transport != "" && !cfg.Realtime.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("realtime.transport %q is invalid; valid values: webrtc, websocket", cfg.Realtime.Transport))
	}
	if err := checkURL("realtime.base_url", cfg.Realtime.BaseURL, "http", "https", "ws", "wss"); err != nil {
		errs = append(errs, err)
	}
	if cfg.Realtime.Transport == TransportWebSocket && len(cfg.Realtime.ICEServers) > 0 {
		slog.Warn("realtime.ice_servers is ignored by the websocket transport")
	}

	// Agent
	if cfg.Agent.Script == "" {
		errs = append(errs, errors.New("agent.script is required"))
	}

	// Session
	if nr := cfg.Session.NoiseReduction; nr != "" && !slices.Contains(validNoiseReduction, nr) {
		errs = append(errs, fmt.Errorf("session.noise_reduction %q is invalid; valid values: near_field, far_field, none", nr))
	}
	if t := cfg.Session.Temperature; t != nil && (*t < 0.6 || *t > 1.2) {
		errs = append(errs, fmt.Errorf("session.temperature %.2f is out of range [0.6, 1.2]", *t))
	}
	if td := cfg.Session.TurnDetection; td != nil && td.Enabled && (td.Threshold < 0 || td.Threshold > 1) {
		errs = append(errs, fmt.Errorf("session.turn_detection.threshold %.2f is out of range [0, 1]", td.Threshold))
	}
	if cfg.Session.FlushTimeout < 0 {
		errs = append(errs, errors.New("session.flush_timeout must not be negative"))
	}
	for i, term := range cfg.Session.Glossary {
		if strings.TrimSpace(term) == "" {
			errs = append(errs, fmt.Errorf("session.glossary[%d] is empty", i))
		}
	}

	// Tools
	if cfg.Tools.Timeout < 0 {
		errs = append(errs, errors.New("tools.timeout must not be negative"))
	}
	serverNames := make(map[string]int, len(cfg.Tools.MCPServers))
	for i, srv := range cfg.Tools.MCPServers {
		prefix := fmt.Sprintf("tools.mcp_servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := serverNames[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of tools.mcp_servers[%d]", prefix, srv.Name, prev))
			}
			serverNames[srv.Name] = i
		}
		if !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == tools.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == tools.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	// Remote collaborators
	if err := checkURL("credential.session_url", cfg.Credential.SessionURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if err := checkURL("profile.base_url", cfg.Profile.BaseURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if err := checkURL("profile.cache.redis_url", cfg.Profile.Cache.RedisURL, "redis", "rediss"); err != nil {
		errs = append(errs, err)
	}
	if cfg.Profile.Cache.File != "" && cfg.Profile.Cache.RedisURL != "" {
		errs = append(errs, errors.New("profile.cache: file and redis_url are mutually exclusive"))
	}
	if cfg.Profile.Cache.TTL < 0 {
		errs = append(errs, errors.New("profile.cache.ttl must not be negative"))
	}
	if err := checkURL("transcript.http_url", cfg.Transcript.HTTPURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if cfg.Transcript.HTTPURL != "" && cfg.Transcript.PostgresDSN != "" {
		errs = append(errs, errors.New("transcript: http_url and postgres_dsn are mutually exclusive"))
	}
	if cfg.Profile.BaseURL == "" && cfg.Profile.Cache.File == "" && cfg.Profile.Cache.RedisURL == "" {
		slog.Debug("profile.base_url is empty; the persona placeholder stays as written")
	}

	return errors.Join(errs...)
}

// checkURL validates an optional absolute URL.
func checkURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Host == "" || !slices.Contains(schemes, u.Scheme) {
		return fmt.Errorf("%s %q must be an absolute %v URL", field, raw, schemes)
	}
	return nil
}
