package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aphelia-health/aphelia/internal/config"
)

func writeConfig(t *testing.T, path, logLevel string) {
	t.Helper()
	content := `
server:
  log_level: ` + logLevel + `
capture:
  local:
    model_path: /models/ggml-base.en.bin
  cloud:
    api_key: dg_secret
curriculum:
  worksheets_file: worksheets.yaml
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aphelia.yaml")
	writeConfig(t, path, "info")

	w, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log level = %q, want info", got)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aphelia.yaml")
	writeConfig(t, path, "info")

	var mu sync.Mutex
	var got []config.LogLevel
	onChange := func(_, new *config.Config) {
		mu.Lock()
		got = append(got, new.Server.LogLevel)
		mu.Unlock()
	}

	w, err := config.NewWatcher(path, onChange, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Mtime granularity can hide an immediate rewrite; nudge it forward.
	writeConfig(t, path, "debug")
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for change notification")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0] != config.LogDebug {
		t.Errorf("reloaded level = %q, want debug", got[0])
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("Current() level = %q, want debug", w.Current().Server.LogLevel)
	}
}

func TestWatcher_KeepsOldConfigOnInvalidEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aphelia.yaml")
	writeConfig(t, path, "info")

	w, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("server:\n  log_level: loud\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	// Give the poller a few cycles to observe the bad file.
	time.Sleep(100 * time.Millisecond)

	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log level = %q, want the pre-edit info", got)
	}
}
