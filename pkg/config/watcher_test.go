package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
}

func startWatcher(t *testing.T, path string) (*Watcher, chan *Config) {
	t.Helper()

	watcher, err := NewWatcher(path, slog.Default())
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	t.Cleanup(func() { _ = watcher.Close() })

	changes := make(chan *Config, 4)
	watcher.OnChange(func(cfg *Config) { changes <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = watcher.Start(ctx) }()

	// let the watcher goroutine enter its loop
	time.Sleep(100 * time.Millisecond)
	return watcher, changes
}

func TestNewWatcher(t *testing.T) {
	watcher, err := NewWatcher("testdata/config.yml", slog.Default())
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	defer func() { _ = watcher.Close() }()

	if cfg := watcher.Config(); cfg == nil || len(cfg.Routes) != 3 {
		t.Errorf("Config() = %+v, want loaded testdata config", cfg)
	}
}

func TestNewWatcherNonExistent(t *testing.T) {
	if _, err := NewWatcher("nonexistent.yml", nil); err == nil {
		t.Error("Expected error for non-existent file")
	}
}

func TestWatcherReloadsRoutes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.yml")
	writeConfig(t, path, `
routes:
  - patterns: ["a.example"]
    address: "10.0.0.1"
`)

	watcher, changes := startWatcher(t, path)
	if got := watcher.Config().Routes[0].Address; got != "10.0.0.1" {
		t.Fatalf("initial address = %s, want 10.0.0.1", got)
	}

	writeConfig(t, path, `
routes:
  - patterns: ["a.example"]
    address: "10.0.0.2"
  - address: "10.0.0.3"
`)

	select {
	case cfg := <-changes:
		if len(cfg.Routes) != 2 || cfg.Routes[0].Address != "10.0.0.2" {
			t.Errorf("reloaded routes = %+v", cfg.Routes)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for config change notification")
	}

	if len(watcher.Config().Routes) != 2 {
		t.Errorf("Config() not updated after reload")
	}
}

func TestWatcherKeepsConfigOnInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.yml")
	writeConfig(t, path, "answer_ttl: 5\n")

	watcher, changes := startWatcher(t, path)

	writeConfig(t, path, "logging:\n  level: loud\n")

	select {
	case cfg := <-changes:
		t.Fatalf("unexpected change notification: %+v", cfg)
	case <-time.After(500 * time.Millisecond):
	}

	if watcher.Config().AnswerTTL != 5 {
		t.Errorf("previous config was not kept")
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "router.yml")
	writeConfig(t, path, "answer_ttl: 5\n")

	_, changes := startWatcher(t, path)

	writeConfig(t, filepath.Join(dir, "other.yml"), "answer_ttl: 9\n")

	select {
	case <-changes:
		t.Fatal("change in another file triggered a reload")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherClose(t *testing.T) {
	watcher, err := NewWatcher("testdata/config.yml", slog.Default())
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}

	if err := watcher.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}

	// A second close must not panic.
	_ = watcher.Close()
}
