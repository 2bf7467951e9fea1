package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"recap/internal/logging"
)

const defaultDebounce = 500 * time.Millisecond

// ChangeHandler receives the freshly loaded configuration after the
// file settles.
type ChangeHandler func(cfg *Config)

// Watcher reloads the config file when it changes on disk. It watches
// the containing directory because editors replace the file by rename,
// which would orphan a watch on the file itself.
type Watcher struct {
	path      string
	fsWatcher *fsnotify.Watcher
	onChange  ChangeHandler
	debounce  time.Duration

	mu        sync.Mutex
	pending   bool
	lastEvent time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for the config file at path. An empty
// path uses the default location.
func NewWatcher(path string, onChange ChangeHandler) (*Watcher, error) {
	if path == "" {
		path = getConfigPath()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		path:      path,
		fsWatcher: fsWatcher,
		onChange:  onChange,
		debounce:  defaultDebounce,
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching for config changes.
func (w *Watcher) Start() error {
	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	go w.processEvents()
	go w.processDebounce()

	logging.Debug("watching config file", "path", w.path)
	return nil
}

// Stop stops watching for config changes.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})
	return w.fsWatcher.Close()
}

func (w *Watcher) processEvents() {
	base := filepath.Base(w.path)

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = true
			w.lastEvent = time.Now()
			w.mu.Unlock()
		case _, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// processDebounce fires the handler once the file has been stable for
// the debounce window, collapsing editor write bursts into one reload.
func (w *Watcher) processDebounce() {
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.flushPending()
		}
	}
}

func (w *Watcher) flushPending() {
	w.mu.Lock()
	if !w.pending || time.Since(w.lastEvent) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.mu.Unlock()

	cfg, err := Load(w.path)
	if err != nil {
		logging.Warn("config reload failed", "path", w.path, "error", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		logging.Warn("config reload rejected", "path", w.path, "error", err)
		return
	}

	logging.Info("config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
