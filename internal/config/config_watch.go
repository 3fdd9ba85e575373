package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the dynamic config fields when the config file changes.
// Only ReplaceDynamic fields are applied at runtime; structural changes
// (tokens, database mode, schedules) still require a restart.
type Watcher struct {
	path    string
	cfg     *Config
	fw      *fsnotify.Watcher
	done    chan struct{}
	OnApply func(*Config) // optional, called after a successful reload
}

// NewWatcher prepares a watcher for the given config file.
func NewWatcher(path string, cfg *Config) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, cfg: cfg, fw: fw, done: make(chan struct{})}, nil
}

// Start begins watching. Watches the parent directory because editors and
// provisioning tools replace the file rather than write in place.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	// Debounce: editors fire several events per save.
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	reload := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			slog.Warn("config watch error", "error", err)
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(250*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			w.apply()
		}
	}
}

func (w *Watcher) apply() {
	fresh, err := Load(w.path)
	if err != nil {
		slog.Warn("config reload failed, keeping previous values", "error", err)
		return
	}
	if err := fresh.Validate(); err != nil {
		slog.Warn("config reload rejected", "error", err)
		return
	}
	w.cfg.ReplaceDynamic(fresh)
	slog.Info("config reloaded",
		"blocked_responses", len(fresh.Relay.BlockedMessageResponses),
		"admin_ids", len(fresh.Moderation.AdminUserIDs),
	)
	if w.OnApply != nil {
		w.OnApply(fresh)
	}
}

// Stop ends the watch loop and releases the inotify handle.
func (w *Watcher) Stop() {
	close(w.done)
	w.fw.Close()
}
