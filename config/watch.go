package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherConfig tunes the hot-reload watcher.
type WatcherConfig struct {
	Enabled      bool
	CooldownTime time.Duration // minimum gap between reloads
}

// DefaultWatcherConfig enables reloads with a 5s cooldown.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{Enabled: true, CooldownTime: 5 * time.Second}
}

// Watcher reloads the config file on change and hands the validated
// result to a callback. A file that fails to parse or validate is
// ignored; the running config stays in effect.
type Watcher struct {
	cfg        WatcherConfig
	configPath string
	watcher    *fsnotify.Watcher
	onUpdate   func(AppConfig)

	mu         sync.Mutex
	lastReload time.Time

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWatcher builds a watcher for path. onUpdate receives each
// successfully reloaded config.
func NewWatcher(path string, cfg WatcherConfig, onUpdate func(AppConfig)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		cfg:        cfg,
		configPath: path,
		watcher:    fw,
		onUpdate:   onUpdate,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// Start begins watching. No-op when disabled.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.cfg.Enabled {
		return nil
	}
	if err := w.watcher.Add(w.configPath); err != nil {
		return fmt.Errorf("watch config file: %w", err)
	}
	go w.watch(ctx)
	return nil
}

// Stop ends the watch loop and closes the file watcher.
func (w *Watcher) Stop() error {
	if !w.cfg.Enabled {
		return w.watcher.Close()
	}
	select {
	case <-w.stopChan:
	default:
		close(w.stopChan)
	}
	select {
	case <-w.doneChan:
	case <-time.After(time.Second):
	}
	return w.watcher.Close()
}

// LastReloadTime reports when the config last reloaded successfully.
func (w *Watcher) LastReloadTime() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastReload
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneChan)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {
				w.handleChange()
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) handleChange() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if time.Since(w.lastReload) < w.cfg.CooldownTime {
		return
	}
	cfg, err := LoadWithEnvOverrides(w.configPath)
	if err != nil {
		return
	}
	if w.onUpdate != nil {
		w.onUpdate(cfg)
	}
	w.lastReload = time.Now()
}
