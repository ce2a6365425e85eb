package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestNewWatcher_EmptyPath(t *testing.T) {
	if _, err := NewWatcher("", 0, nil); err == nil {
		t.Error("Expected error for empty path")
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	resetSingleton(t)
	path := writeConfig(t, "proxy:\n  api_key: one\n")

	w, err := NewWatcher(path, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	var mu sync.Mutex
	var got []string
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func(cfg *Config) {
			mu.Lock()
			got = append(got, cfg.Proxy.APIKey)
			mu.Unlock()
		})
	}()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	// An invalid intermediate version is skipped.
	if err := os.WriteFile(path, []byte("keypool:\n  max_attempts: -1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)

	if err := os.WriteFile(path, []byte("proxy:\n  api_key: two\n"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) == 0 || got[len(got)-1] != "two" {
		t.Errorf("Expected reloaded secret two, got %v", got)
	}
	for _, key := range got {
		if key != "two" {
			t.Errorf("Expected only valid configs to be published, got %v", got)
		}
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	path := writeConfig(t, "proxy:\n  api_key: one\n")

	w, err := NewWatcher(path, 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	calls := 0
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func(*Config) { calls++ })
	}()

	time.Sleep(100 * time.Millisecond)
	other := filepath.Join(filepath.Dir(path), "other.yaml")
	if err := os.WriteFile(other, []byte("x: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)

	cancel()
	<-done

	if calls != 0 {
		t.Errorf("Expected no reloads for unrelated files, got %d", calls)
	}
}
