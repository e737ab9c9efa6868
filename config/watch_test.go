package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatcherTriggersOnChange(t *testing.T) {
	path := writeTempConfig(t, validConfig)

	ch := make(chan AppConfig, 1)
	w, err := NewWatcher(path, WatcherConfig{Enabled: true}, func(cfg AppConfig) {
		select {
		case ch <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := os.WriteFile(path, []byte(validConfig), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-ch:
		if cfg.Env != "dev" {
			t.Errorf("reloaded env = %s", cfg.Env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected update callback")
	}
	if w.LastReloadTime().IsZero() {
		t.Error("last reload time not recorded")
	}
}

func TestWatcherIgnoresBrokenConfig(t *testing.T) {
	path := writeTempConfig(t, validConfig)

	ch := make(chan AppConfig, 1)
	w, err := NewWatcher(path, WatcherConfig{Enabled: true}, func(cfg AppConfig) {
		select {
		case ch <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := os.WriteFile(path, []byte(`env: [`), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case <-ch:
		t.Fatal("broken config must not trigger an update")
	case <-time.After(300 * time.Millisecond):
	}
	if !w.LastReloadTime().IsZero() {
		t.Error("broken config must not count as a reload")
	}
}

func TestWatcherCooldown(t *testing.T) {
	path := writeTempConfig(t, validConfig)

	var updates int
	w, err := NewWatcher(path, WatcherConfig{Enabled: true, CooldownTime: time.Hour}, func(AppConfig) {
		updates++
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Direct calls: the first passes, the second lands in the cooldown.
	w.handleChange()
	w.handleChange()
	if updates != 1 {
		t.Errorf("updates = %d, want 1", updates)
	}
}

func TestWatcherDisabled(t *testing.T) {
	path := writeTempConfig(t, validConfig)
	w, err := NewWatcher(path, WatcherConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("disabled Start: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("disabled Stop: %v", err)
	}
}
