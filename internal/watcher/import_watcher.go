// Package watcher imports playbook YAML files dropped into a watched
// directory.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rehearse-io/rehearse/internal/logging"
	"github.com/rehearse-io/rehearse/internal/playbook"
	"github.com/rehearse-io/rehearse/internal/store"
)

// ImportWatcher monitors a directory and imports playbook files written
// into it.
type ImportWatcher struct {
	dir     string
	store   *store.Store
	watcher *fsnotify.Watcher

	debounce time.Duration

	mu       sync.Mutex
	running  bool
	pending  map[string]time.Time
	imported func(pb *playbook.Playbook)
}

// NewImportWatcher creates a watcher over the given directory.
func NewImportWatcher(dir string, st *store.Store, debounce time.Duration) (*ImportWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	return &ImportWatcher{
		dir:      dir,
		store:    st,
		watcher:  fsWatcher,
		debounce: debounce,
		pending:  make(map[string]time.Time),
	}, nil
}

// OnImport registers a callback invoked after each successful import.
func (w *ImportWatcher) OnImport(fn func(pb *playbook.Playbook)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.imported = fn
}

// Start blocks, importing files until the context is cancelled.
func (w *ImportWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	logging.Info("Watching %s for playbook imports", w.dir)

	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !isPlaybookFile(event) {
				continue
			}
			w.mu.Lock()
			w.pending[event.Name] = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			logging.Warn("Import watcher error: %v", err)

		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

// Stop closes the underlying watcher.
func (w *ImportWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		w.watcher.Close()
		w.running = false
	}
}

// processPending imports files whose last write is older than the
// debounce window, so half-written files are skipped until quiet.
func (w *ImportWatcher) processPending(ctx context.Context) {
	cutoff := time.Now().Add(-w.debounce)

	w.mu.Lock()
	var ready []string
	for path, last := range w.pending {
		if last.Before(cutoff) {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	callback := w.imported
	w.mu.Unlock()

	for _, path := range ready {
		pb, err := w.store.ImportPlaybook(ctx, path)
		if err != nil {
			logging.Warn("Failed to import %s: %v", path, err)
			continue
		}
		logging.Info("Imported playbook %s v%d from %s", pb.ID, pb.Version, filepath.Base(path))
		if callback != nil {
			callback(pb)
		}
	}
}

func isPlaybookFile(event fsnotify.Event) bool {
	if event.Op&fsnotify.Write == 0 && event.Op&fsnotify.Create == 0 {
		return false
	}
	ext := strings.ToLower(filepath.Ext(event.Name))
	return ext == ".yaml" || ext == ".yml"
}
