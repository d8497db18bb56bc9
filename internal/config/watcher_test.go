package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/mockview/internal/config"
)

const watcherValidYAML = minimalYAML + `
playback:
  volume: 1
`

const watcherUpdatedYAML = minimalYAML + `
playback:
  volume: 0.4
`

const watcherInvalidYAML = minimalYAML + `
playback:
  volume: 7
`

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
	// Explicit mtimes keep the test independent of filesystem timestamp
	// granularity.
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("failed to set mtime: %v", err)
	}
}

// startWatcher creates a watcher with a fast poll and runs it until the test
// ends.
func startWatcher(t *testing.T, path string, onChange func(config.ConfigDiff, *config.Config)) *config.Watcher {
	t.Helper()
	w, err := config.NewWatcher(path, onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML, time.Now())

	w := startWatcher(t, cfgPath, nil)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.PlaybackVolume() != 1 {
		t.Errorf("volume: got %.2f, want 1", cfg.PlaybackVolume())
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	base := time.Now().Add(-time.Minute)
	writeFile(t, cfgPath, watcherValidYAML, base)

	var mu sync.Mutex
	var got config.ConfigDiff
	called := make(chan struct{}, 1)

	w := startWatcher(t, cfgPath, func(d config.ConfigDiff, _ *config.Config) {
		mu.Lock()
		got = d
		mu.Unlock()
		select {
		case called <- struct{}{}:
		default:
		}
	})

	writeFile(t, cfgPath, watcherUpdatedYAML, base.Add(time.Second))

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	if !got.VolumeChanged || got.NewVolume != 0.4 {
		t.Errorf("diff = %+v, want volume 0.4", got)
	}
	if cur := w.Current(); cur.PlaybackVolume() != 0.4 {
		t.Errorf("Current() volume: got %.2f, want 0.4", cur.PlaybackVolume())
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	base := time.Now().Add(-time.Minute)
	writeFile(t, cfgPath, watcherValidYAML, base)

	var mu sync.Mutex
	calls := 0
	w := startWatcher(t, cfgPath, func(config.ConfigDiff, *config.Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	writeFile(t, cfgPath, watcherInvalidYAML, base.Add(time.Second))
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", calls)
	}
	if cur := w.Current(); cur.PlaybackVolume() != 1 {
		t.Errorf("Current() should keep the old config, got volume %.2f", cur.PlaybackVolume())
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML, time.Now())

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Errorf("Run after cancel = %v, want nil", err)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	base := time.Now().Add(-time.Minute)
	writeFile(t, cfgPath, watcherValidYAML, base)

	var mu sync.Mutex
	calls := 0
	startWatcher(t, cfgPath, func(config.ConfigDiff, *config.Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	touch := base.Add(time.Second)
	if err := os.Chtimes(cfgPath, touch, touch); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", calls)
	}
}
