// Package watch turns filesystem writes below the project folders into save
// events, coalescing bursts of writes to the same file.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"rsyncssh/pkg/logger"
)

var skippedDirs = map[string]struct{}{
	".git": {},
	".hg":  {},
	".svn": {},
}

type Handler func(ctx context.Context, path string)

type Watcher struct {
	fw     *fsnotify.Watcher
	delay  time.Duration
	logger *logger.Logger
}

func New(delay time.Duration, l *logger.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if l == nil {
		l = logger.NewDefault()
	}
	return &Watcher{fw: fw, delay: delay, logger: l}, nil
}

// Add watches root and every directory below it.
func (w *Watcher) Add(root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	if _, err := os.Stat(absRoot); err != nil {
		return fmt.Errorf("source directory not found: %w", err)
	}
	return w.addRecursive(absRoot)
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if _, skip := skippedDirs[d.Name()]; skip && path != dir {
			return filepath.SkipDir
		}
		if err := w.fw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		w.logger.Debug("watching directory", map[string]any{"path": path})
		return nil
	})
}

// Run blocks until ctx is done, calling handle once per file after writes
// to it have been quiet for the debounce delay.
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	d := newDebouncer(w.delay, func(path string) { handle(ctx, path) })
	defer d.stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopping", nil)
			return nil

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event, d)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", err, nil)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event, d *debouncer) {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if event.Op.Has(fsnotify.Create) {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", map[string]any{
					"path":  event.Name,
					"error": err.Error(),
				})
			}
		}
		return
	}
	d.trigger(event.Name)
}

func (w *Watcher) Close() error {
	return w.fw.Close()
}

type debouncer struct {
	mu     sync.Mutex
	delay  time.Duration
	timers map[string]*time.Timer
	fire   func(path string)
}

func newDebouncer(delay time.Duration, fire func(path string)) *debouncer {
	return &debouncer{delay: delay, timers: make(map[string]*time.Timer), fire: fire}
}

func (d *debouncer) trigger(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.timers[path]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if d.timers[path] != timer {
			// superseded by a later write
			d.mu.Unlock()
			return
		}
		delete(d.timers, path)
		d.mu.Unlock()
		d.fire(path)
	})
	d.timers[path] = timer
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for path, t := range d.timers {
		t.Stop()
		delete(d.timers, path)
	}
}
