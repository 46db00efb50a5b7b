// Package watch keeps the document store in step with the documents
// directory by reacting to filesystem events.
package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Target receives the settled changes.
type Target interface {
	AddFile(ctx context.Context, path string) (bool, error)
	DeleteFile(ctx context.Context, path string) (bool, error)
}

// Options tunes a Watcher. Filter receives absolute paths; nil accepts all.
type Options struct {
	Filter   func(path string) bool
	Debounce time.Duration
	Logger   *zap.Logger
}

// Stats tracks watcher activity.
type Stats struct {
	Events        int
	Added         int
	Removed       int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
}

// Watcher debounces events per path and applies them to a Target.
type Watcher struct {
	mu          sync.Mutex
	fsw         *fsnotify.Watcher
	dir         string
	target      Target
	filter      func(string) bool
	debounceMap map[string]time.Time
	debounceDur time.Duration
	tick        time.Duration
	logger      *zap.Logger
	stats       Stats
	closeOnce   sync.Once
}

// New watches dir and all of its subdirectories, creating dir if needed.
func New(dir string, target Target, opts Options) (*Watcher, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Filter == nil {
		opts.Filter = func(string) bool { return true }
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:         fsw,
		dir:         dir,
		target:      target,
		filter:      opts.Filter,
		debounceMap: make(map[string]time.Time),
		debounceDur: opts.Debounce,
		tick:        tickFor(opts.Debounce),
		logger:      opts.Logger.Named("watch"),
	}
	if err := w.addTree(dir, false); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func tickFor(debounce time.Duration) time.Duration {
	t := debounce / 5
	if t < 10*time.Millisecond {
		t = 10 * time.Millisecond
	}
	if t > 100*time.Millisecond {
		t = 100 * time.Millisecond
	}
	return t
}

// Run processes events until ctx is done. It closes the watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	w.logger.Info("watching documents directory", zap.String("dir", w.dir))
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("watcher stopped")
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case now := <-ticker.C:
			w.processDebounced(ctx, now)
		}
	}
}

// Close releases the underlying fsnotify watcher. Safe to call twice.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() { err = w.fsw.Close() })
	return err
}

// Stats returns a copy of the activity counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	// A new directory: watch it and pick up files that landed before the
	// watch was in place.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name, true); err != nil {
				w.logger.Warn("failed to watch directory", zap.String("dir", event.Name), zap.Error(err))
			}
			return
		}
	}

	w.enqueue(event.Name, time.Now())
}

func (w *Watcher) enqueue(path string, at time.Time) {
	if !w.filter(path) {
		return
	}
	w.mu.Lock()
	w.debounceMap[path] = at
	w.stats.Events++
	w.stats.LastEventPath = path
	w.stats.LastEventTime = at
	w.mu.Unlock()
}

// processDebounced applies every path whose last event is older than the
// debounce window.
func (w *Watcher) processDebounced(ctx context.Context, now time.Time) {
	w.mu.Lock()
	var settled []string
	for path, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		if ctx.Err() != nil {
			return
		}
		w.apply(ctx, path)
	}
}

func (w *Watcher) apply(ctx context.Context, path string) {
	info, err := os.Stat(path)
	switch {
	case err == nil && info.Mode().IsRegular():
		ok, err := w.target.AddFile(ctx, path)
		if err != nil {
			w.fail(path, err)
			return
		}
		if ok {
			w.mu.Lock()
			w.stats.Added++
			w.mu.Unlock()
			w.logger.Info("indexed changed document", zap.String("path", path))
		}

	case errors.Is(err, os.ErrNotExist):
		ok, err := w.target.DeleteFile(ctx, path)
		if err != nil {
			w.fail(path, err)
			return
		}
		if ok {
			w.mu.Lock()
			w.stats.Removed++
			w.mu.Unlock()
			w.logger.Info("removed deleted document", zap.String("path", path))
		}

	case err != nil:
		w.fail(path, err)
	}
}

func (w *Watcher) fail(path string, err error) {
	w.logger.Error("failed to apply change", zap.String("path", path), zap.Error(err))
	w.mu.Lock()
	w.stats.Errors++
	w.mu.Unlock()
}

// addTree watches root and its subdirectories. With enqueueFiles set, the
// regular files found are queued as changes.
func (w *Watcher) addTree(root string, enqueueFiles bool) error {
	now := time.Now()
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		if enqueueFiles && d.Type().IsRegular() {
			w.enqueue(path, now)
		}
		return nil
	})
}
