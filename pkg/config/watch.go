package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// OverridesWatcher watches the per-identity limit overrides file and
// invokes a callback with the freshly loaded override set whenever the
// file changes. Editors and config-management tools often replace the
// file rather than write it in place, so the watcher watches the parent
// directory and filters events for the target file.
type OverridesWatcher struct {
	path     string
	onChange func(Overrides)
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration
}

// NewOverridesWatcher creates a watcher for the overrides file at path.
// The callback runs on the watcher goroutine; it must not block for long.
func NewOverridesWatcher(path string, onChange func(Overrides)) (*OverridesWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("overrides path cannot be empty")
	}
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback cannot be nil")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(path), err)
	}

	return &OverridesWatcher{
		path:     path,
		onChange: onChange,
		watcher:  watcher,
		logger:   slog.Default().With("component", "config.watcher"),
		debounce: 250 * time.Millisecond,
	}, nil
}

// Start begins watching until the context is cancelled.
func (w *OverridesWatcher) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *OverridesWatcher) run(ctx context.Context) {
	defer w.watcher.Close()

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	w.logger.Info("watching limit overrides", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("overrides watcher stopped")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Debounce bursts of write events from a single save.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			overrides, err := LoadOverrides(w.path)
			if err != nil {
				w.logger.Error("failed to reload limit overrides", "path", w.path, "error", err)
				continue
			}
			w.logger.Info("limit overrides reloaded", "path", w.path, "identities", len(overrides))
			w.onChange(overrides)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("overrides watcher error", "error", err)
		}
	}
}
