package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultWatchDelay is how long the watcher waits for further changes
// before triggering.
const DefaultWatchDelay = 500 * time.Millisecond

// Watcher triggers a callback when manifest files change. Bursts of
// events are coalesced and callbacks never run concurrently.
type Watcher struct {
	// Delay debounces change events. Zero means DefaultWatchDelay.
	Delay time.Duration

	logger  zerolog.Logger
	watcher *fsnotify.Watcher
	mu      sync.Mutex
}

// NewWatcher creates a watcher logging through logger.
func NewWatcher(logger zerolog.Logger) *Watcher {
	return &Watcher{
		Delay:  DefaultWatchDelay,
		logger: logger.With().Str("component", "manifest-watcher").Logger(),
	}
}

// Watch starts watching paths and calls onChange after each settled burst
// of changes to a manifest file. It returns once watching has started;
// watching stops when ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context, paths []string, onChange func(context.Context) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	watched := 0
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}

		if info.IsDir() {
			err = w.watchDirectory(path)
		} else {
			// Editors replace files on save, so watch the parent directory.
			err = watcher.Add(filepath.Dir(path))
		}
		if err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch path")
			continue
		}
		watched++
	}
	if watched == 0 {
		_ = watcher.Close()
		return fmt.Errorf("no watchable paths in %v", paths)
	}

	go w.processEvents(ctx, onChange)

	w.logger.Info().
		Int("paths", len(paths)).
		Msg("Started watching manifest paths")

	return nil
}

func (w *Watcher) watchDirectory(dirPath string) error {
	return filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context, onChange func(context.Context) error) {
	var timer *time.Timer
	delay := w.Delay
	if delay <= 0 {
		delay = DefaultWatchDelay
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !isManifestFile(event.Name) {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Manifest file changed")

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(delay, func() { w.trigger(ctx, onChange) })

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) trigger(ctx context.Context, onChange func(context.Context) error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	if err := onChange(ctx); err != nil {
		w.logger.Error().Err(err).Msg("Reconciliation after manifest change failed")
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

func isManifestFile(name string) bool {
	switch filepath.Ext(name) {
	case ".yaml", ".yml", ".json", ".cue":
		return true
	}
	return false
}
