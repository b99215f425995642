package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/finvoice/internal/config"
	"github.com/MrWong99/finvoice/internal/tools"
)

const fullYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  log_format: json
realtime:
  transport: webrtc
  base_url: https://api.openai.com/v1/realtime
  model: gpt-4o-realtime-preview-2024-12-17
  ice_servers: ["stun:stun.l.google.com:19302"]
  capture:
    echo_cancellation: false
agent:
  script: agents/advisor.yaml
session:
  voice: alloy
  noise_reduction: far_field
  temperature: 0.7
  turn_detection:
    enabled: true
    threshold: 0.6
    prefix_padding_ms: 250
    silence_duration_ms: 400
  flush_timeout: 5s
  glossary: [Zerodha, Mutual Fund]
tools:
  timeout: 10s
  web_search:
    api_key: tvly-test
    max_results: 3
  mcp_servers:
    - name: rates
      transport: streamable-http
      url: http://localhost:8765/mcp
    - name: ledger
      transport: stdio
      command: ledger-mcp --readonly
      env:
        LEDGER_DB: /tmp/ledger.db
credential:
  dir: /tmp/tokens
  session_url: http://localhost:8000/api/session
profile:
  base_url: http://localhost:8000/api
  cache:
    redis_url: redis://localhost:6379/0
    ttl: 1h
transcript:
  postgres_dsn: postgres://finvoice@localhost/finvoice
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.LogLevel != config.LogDebug || cfg.Server.LogFormat != config.LogFormatJSON {
		t.Errorf("server = %+v", cfg.Server)
	}
	if ec := cfg.Realtime.Capture.EchoCancellation; ec == nil || *ec {
		t.Errorf("capture.echo_cancellation = %v, want explicit false", ec)
	}
	if cfg.Realtime.Capture.NoiseSuppression != nil {
		t.Error("capture.noise_suppression set without being configured")
	}
	if td := cfg.Session.TurnDetection; td == nil || td.SilenceDurationMs != 400 {
		t.Errorf("turn_detection = %+v", td)
	}
	if cfg.Session.FlushTimeout != 5*time.Second || cfg.Tools.Timeout != 10*time.Second {
		t.Errorf("durations: flush=%s tools=%s", cfg.Session.FlushTimeout, cfg.Tools.Timeout)
	}
	if !slices.Equal(cfg.Session.Glossary, []string{"Zerodha", "Mutual Fund"}) {
		t.Errorf("glossary = %v", cfg.Session.Glossary)
	}
	if len(cfg.Tools.MCPServers) != 2 {
		t.Fatalf("mcp_servers = %d, want 2", len(cfg.Tools.MCPServers))
	}
	ledger := cfg.Tools.MCPServers[1]
	if ledger.Transport != tools.TransportStdio || ledger.Env["LEDGER_DB"] != "/tmp/ledger.db" {
		t.Errorf("ledger = %+v", ledger)
	}
	if cfg.Profile.Cache.TTL != time.Hour {
		t.Errorf("profile ttl = %s", cfg.Profile.Cache.TTL)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader("agent:\n  script: a.yaml\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Server.LogFormat != config.LogFormatText {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	if cfg.Realtime.Transport != config.TransportWebRTC || cfg.Realtime.Model != config.DefaultModel {
		t.Errorf("realtime defaults = %+v", cfg.Realtime)
	}
	if cfg.Tools.Timeout != config.DefaultToolTimeout {
		t.Errorf("tools.timeout = %s", cfg.Tools.Timeout)
	}
	if cfg.Session.FlushTimeout != config.DefaultFlushTimeout {
		t.Errorf("session.flush_timeout = %s", cfg.Session.FlushTimeout)
	}
	if cfg.Profile.Cache.TTL != config.DefaultProfileTTL {
		t.Errorf("profile.cache.ttl = %s", cfg.Profile.Cache.TTL)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("agent:\n  script: a.yaml\n  scirpt: typo\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "scirpt") {
		t.Errorf("error should name the unknown field, got: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{"missing script", `server: {log_level: info}`, []string{"agent.script is required"}},
		{"bad enums", `
agent: {script: a.yaml}
server: {log_level: loud, log_format: xml}
realtime: {transport: carrier-pigeon}
session: {noise_reduction: studio}
`, []string{"server.log_level", "server.log_format", "realtime.transport", "session.noise_reduction"}},
		{"ranges", `
agent: {script: a.yaml}
session:
  temperature: 2.0
  turn_detection: {enabled: true, threshold: 1.5}
  glossary: [Zerodha, " "]
`, []string{"session.temperature", "session.turn_detection.threshold", "session.glossary[1] is empty"}},
		{"mcp servers", `
agent: {script: a.yaml}
tools:
  mcp_servers:
    - name: rates
      transport: stdio
    - name: rates
      transport: streamable-http
    - transport: smoke-signals
`, []string{"command is required", "duplicate", "url is required", "tools.mcp_servers[2].name is required", "smoke-signals"}},
		{"urls", `
agent: {script: a.yaml}
realtime: {base_url: "not a url"}
profile:
  base_url: ftp://example.com
  cache: {redis_url: "http://localhost:6379"}
transcript: {http_url: /relative}
`, []string{"realtime.base_url", "profile.base_url", "profile.cache.redis_url", "transcript.http_url"}},
		{"exclusive sinks", `
agent: {script: a.yaml}
profile:
  cache: {file: /tmp/p.json, redis_url: "redis://localhost:6379"}
transcript: {http_url: "https://example.com/t", postgres_dsn: "postgres://x"}
`, []string{"file and redis_url are mutually exclusive", "http_url and postgres_dsn are mutually exclusive"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error should mention %q, got: %v", w, err)
				}
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"FINVOICE_WEB_SEARCH_API_KEY":      "tvly-env",
		"FINVOICE_TRANSCRIPT_POSTGRES_DSN": "postgres://env",
		"FINVOICE_LOG_LEVEL":               "warn",
		"FINVOICE_REALTIME_MODEL":          "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := &config.Config{}
	cfg.Realtime.Model = "from-file"
	cfg.Tools.WebSearch.APIKey = "from-file"
	config.ApplyEnv(cfg, lookup)

	if cfg.Tools.WebSearch.APIKey != "tvly-env" {
		t.Errorf("api key = %q", cfg.Tools.WebSearch.APIKey)
	}
	if cfg.Transcript.PostgresDSN != "postgres://env" {
		t.Errorf("postgres dsn = %q", cfg.Transcript.PostgresDSN)
	}
	if cfg.Server.LogLevel != config.LogWarn {
		t.Errorf("log level = %q", cfg.Server.LogLevel)
	}
	if cfg.Realtime.Model != "from-file" {
		t.Errorf("empty env value overrode model: %q", cfg.Realtime.Model)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "finvoice.yaml")
	writeFile(t, path, fullYAML)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Script != "agents/advisor.yaml" {
		t.Errorf("agent.script = %q", cfg.Agent.Script)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}
