package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/finvoice/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
agent:
  script: agents/advisor.yaml
`

const watcherUpdatedYAML = `
server:
  log_level: debug
agent:
  script: agents/advisor.yaml
tools:
  timeout: 5s
`

const watcherInvalidYAML = `
server:
  log_level: bananas
agent:
  script: agents/advisor.yaml
`

func noEnv(string) (string, bool) { return "", false }

// rewrite writes content and moves the mtime forward so the change is seen
// even on filesystems with coarse timestamps.
func rewrite(t *testing.T, path, content string, bump time.Duration) {
	t.Helper()
	writeFile(t, path, content)
	ts := time.Now().Add(bump)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond), config.WithEnvLookup(noEnv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Tools.Timeout != config.DefaultToolTimeout {
		t.Errorf("defaults not applied: tools.timeout = %s", cfg.Tools.Timeout)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	type change struct {
		old, new *config.Config
		diff     config.ConfigDiff
	}
	got := make(chan change, 1)
	w, err := config.NewWatcher(cfgPath, func(old, new *config.Config, diff config.ConfigDiff) {
		select {
		case got <- change{old, new, diff}:
		default:
		}
	}, config.WithInterval(20*time.Millisecond), config.WithEnvLookup(noEnv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	rewrite(t, cfgPath, watcherUpdatedYAML, time.Second)

	var c change
	select {
	case c = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}
	if c.old.Server.LogLevel != config.LogInfo || c.new.Server.LogLevel != config.LogDebug {
		t.Errorf("log levels: old=%q new=%q", c.old.Server.LogLevel, c.new.Server.LogLevel)
	}
	if !c.diff.LogLevelChanged || len(c.diff.RestartRequired) != 1 || c.diff.RestartRequired[0] != "tools" {
		t.Errorf("diff = %+v", c.diff)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level: got %q, want %q", cur.Server.LogLevel, config.LogDebug)
	}
}

func TestWatcher_AppliesEnvOnReload(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	lookup := func(k string) (string, bool) {
		if k == "FINVOICE_WEB_SEARCH_API_KEY" {
			return "tvly-env", true
		}
		return "", false
	}
	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(time.Hour), config.WithEnvLookup(lookup))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()
	if key := w.Current().Tools.WebSearch.APIKey; key != "tvly-env" {
		t.Errorf("api key = %q, want env override", key)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var mu sync.Mutex
	calls := 0
	w, err := config.NewWatcher(cfgPath, func(*config.Config, *config.Config, config.ConfigDiff) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, config.WithInterval(20*time.Millisecond), config.WithEnvLookup(noEnv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	rewrite(t, cfgPath, watcherInvalidYAML, time.Second)
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	n := calls
	mu.Unlock()
	if n != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", n)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogInfo {
		t.Errorf("Current() should still have old config, got log_level=%q", cur.Server.LogLevel)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond), config.WithEnvLookup(noEnv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Stop()
	w.Stop()
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var mu sync.Mutex
	calls := 0
	w, err := config.NewWatcher(cfgPath, func(*config.Config, *config.Config, config.ConfigDiff) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, config.WithInterval(20*time.Millisecond), config.WithEnvLookup(noEnv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	rewrite(t, cfgPath, watcherValidYAML, time.Second)
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	n := calls
	mu.Unlock()
	if n != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", n)
	}
}
