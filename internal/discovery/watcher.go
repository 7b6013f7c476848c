package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits after the last filesystem
// event before re-running discovery. Deploys touch many files in a burst;
// one sync at the end is enough.
const DefaultDebounce = 2 * time.Second

// Watcher re-runs catalog discovery when the deployed test tree changes.
type Watcher struct {
	syncer   *Syncer
	root     string
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher creates a Watcher over the given test root. A non-positive
// debounce falls back to DefaultDebounce.
func NewWatcher(root string, syncer *Syncer, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Watcher{
		syncer:   syncer,
		root:     root,
		debounce: debounce,
		logger:   logger,
	}
}

// Run watches the test root until the context is canceled. A nonexistent
// root disables watching (startup discovery already logged it); the service
// keeps running without live re-discovery.
func (w *Watcher) Run(ctx context.Context) error {
	if _, err := os.Stat(w.root); errors.Is(err, os.ErrNotExist) {
		w.logger.Warn("watcher: test root does not exist, live re-discovery disabled",
			slog.String("root", w.root))
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("discovery: creating filesystem watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.addRecursive(watcher, w.root); err != nil {
		return err
	}

	w.logger.Info("watcher: watching test root",
		slog.String("root", w.root),
		slog.Duration("debounce", w.debounce))

	// Armed only while a sync is pending.
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if w.handleEvent(watcher, event) {
				timer.Reset(w.debounce)
			}

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("watcher: filesystem watcher error",
				slog.String("error", watchErr.Error()))

		case <-timer.C:
			if _, err := w.syncer.Sync(ctx); err != nil {
				w.logger.Error("watcher: re-discovery failed",
					slog.String("error", err.Error()))
			}
		}
	}
}

// handleEvent registers watches on new directories and reports whether the
// event should reset the debounce timer.
func (w *Watcher) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) bool {
	// Mode changes never alter the catalog.
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(watcher, event.Name); err != nil {
				w.logger.Warn("watcher: cannot watch new directory",
					slog.String("path", event.Name),
					slog.String("error", err.Error()))
			}
		}
	}

	return true
}

// addRecursive registers the directory and every subdirectory with the
// watcher. Unreadable subtrees are logged and skipped.
func (w *Watcher) addRecursive(watcher *fsnotify.Watcher, root string) error {
	walkFn := func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.logger.Warn("watcher: walk error, skipping subtree",
				slog.String("path", path), slog.String("error", walkErr.Error()))

			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if !d.IsDir() {
			return nil
		}

		if err := watcher.Add(path); err != nil {
			w.logger.Warn("watcher: cannot add watch",
				slog.String("path", path), slog.String("error", err.Error()))
		}

		return nil
	}

	if err := filepath.WalkDir(root, walkFn); err != nil {
		return fmt.Errorf("discovery: registering watches under %s: %w", root, err)
	}

	return nil
}
