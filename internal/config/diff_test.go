package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/finvoice/internal/config"
)

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestDiff_NoChange(t *testing.T) {
	t.Parallel()

	a, b := mustLoad(t, fullYAML), mustLoad(t, fullYAML)
	if d := config.Diff(a, b); d.Changed() {
		t.Errorf("Diff of identical configs = %+v", d)
	}
}

func TestDiff_LogLevelOnly(t *testing.T) {
	t.Parallel()

	a := mustLoad(t, fullYAML)
	b := mustLoad(t, strings.Replace(fullYAML, "log_level: debug", "log_level: warn", 1))
	d := config.Diff(a, b)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
		t.Errorf("log level diff = %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		old     string
		new     string
		section string
	}{
		{"listen addr", `listen_addr: ":9090"`, `listen_addr: ":9191"`, "server"},
		{"ice servers", `ice_servers: ["stun:stun.l.google.com:19302"]`, `ice_servers: []`, "realtime"},
		{"capture flag", `echo_cancellation: false`, `echo_cancellation: true`, "realtime"},
		{"agent script", `script: agents/advisor.yaml`, `script: agents/other.yaml`, "agent"},
		{"temperature", `temperature: 0.7`, `temperature: 0.9`, "session"},
		{"vad", `silence_duration_ms: 400`, `silence_duration_ms: 500`, "session"},
		{"glossary", `glossary: [Zerodha, Mutual Fund]`, `glossary: [Zerodha]`, "session"},
		{"mcp env", `LEDGER_DB: /tmp/ledger.db`, `LEDGER_DB: /tmp/other.db`, "tools"},
		{"web search", `max_results: 3`, `max_results: 4`, "tools"},
		{"session url", `session_url: http://localhost:8000/api/session`, `session_url: http://localhost:8001/api/session`, "credential"},
		{"profile ttl", `ttl: 1h`, `ttl: 2h`, "profile"},
		{"transcript", `postgres_dsn: postgres://finvoice@localhost/finvoice`, `postgres_dsn: postgres://other@localhost/finvoice`, "transcript"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if !strings.Contains(fullYAML, tt.old) {
				t.Fatalf("fixture does not contain %q", tt.old)
			}
			a := mustLoad(t, fullYAML)
			b := mustLoad(t, strings.Replace(fullYAML, tt.old, tt.new, 1))
			d := config.Diff(a, b)
			if !slices.Equal(d.RestartRequired, []string{tt.section}) {
				t.Errorf("RestartRequired = %v, want [%s]", d.RestartRequired, tt.section)
			}
			if d.LogLevelChanged {
				t.Error("LogLevelChanged set without a log level change")
			}
		})
	}
}
