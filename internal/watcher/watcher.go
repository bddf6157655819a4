// Package watcher reports debounced changes to a fixed set of files. The CLI
// uses it to re-run a scenario when the scenario or a sourced script is saved.
package watcher

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/vimpilot/internal/log"
)

// DefaultDebounce is how long writes must settle before a change is reported.
const DefaultDebounce = 300 * time.Millisecond

// Config holds watcher configuration options.
type Config struct {
	Paths       []string
	DebounceDur time.Duration
}

// DefaultConfig watches paths with DefaultDebounce.
func DefaultConfig(paths ...string) Config {
	return Config{Paths: paths, DebounceDur: DefaultDebounce}
}

// Watcher monitors files and reports which of them changed once writes
// have settled.
type Watcher struct {
	fs       *fsnotify.Watcher
	files    map[string]bool
	debounce time.Duration
	changes  chan []string
	done     chan struct{}
}

// New creates a watcher for cfg.Paths. Nothing is watched until Start.
func New(cfg Config) (*Watcher, error) {
	if len(cfg.Paths) == 0 {
		return nil, errors.New("no files to watch")
	}

	files := make(map[string]bool, len(cfg.Paths))
	for _, p := range cfg.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", p, err)
		}
		files[abs] = true
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	debounce := cfg.DebounceDur
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		fs:       fs,
		files:    files,
		debounce: debounce,
		changes:  make(chan []string, 1),
		done:     make(chan struct{}),
	}, nil
}

// Start watches the directories holding the files, so saves that replace a
// file by rename are still seen. The returned channel receives the sorted
// absolute paths that changed during each settled burst of writes.
func (w *Watcher) Start() (<-chan []string, error) {
	added := make(map[string]bool)
	for f := range w.files {
		dir := filepath.Dir(f)
		if added[dir] {
			continue
		}
		if err := w.fs.Add(dir); err != nil {
			return nil, fmt.Errorf("watching directory %s: %w", dir, err)
		}
		added[dir] = true
	}
	log.Debug(log.CatWatcher, "watching", "files", len(w.files), "dirs", len(added))

	go w.loop()
	return w.changes, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fs.Close()
}

func (w *Watcher) loop() {
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	pending := make(map[string]bool)
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			path, relevant := w.relevant(event)
			if !relevant {
				continue
			}
			log.Debug(log.CatWatcher, "file changed", "path", path, "op", event.Op.String())
			pending[path] = true
			timer.Reset(w.debounce)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			slices.Sort(changed)
			clear(pending)

			// a queued notification already means "re-run"
			select {
			case w.changes <- changed:
			default:
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warn(log.CatWatcher, "watch error", "error", err)

		case <-w.done:
			return
		}
	}
}

// relevant reports whether event writes one of the watched files.
func (w *Watcher) relevant(event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return "", false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return "", false
	}
	return abs, w.files[abs]
}
