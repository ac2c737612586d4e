// Package watcher publishes changes in local document folders.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/cbnote/cbnote/internal/events"
	"github.com/cbnote/cbnote/internal/logging"
)

// Watcher turns fsnotify events on document folders into events.Event
// values. Hidden files, including in-progress atomic writes, are ignored.
type Watcher struct {
	fs  *fsnotify.Watcher
	out *events.Broadcaster[events.Event]
	log *zap.Logger

	mu    sync.RWMutex
	roots map[string]string // cleaned folder path -> directory id
}

// New creates a watcher publishing to out.
func New(out *events.Broadcaster[events.Event]) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		fs:    fsw,
		out:   out,
		log:   logging.Named("watcher"),
		roots: make(map[string]string),
	}, nil
}

// Add watches path and labels its events with directory id.
func (w *Watcher) Add(id, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	if err := w.fs.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	w.mu.Lock()
	w.roots[filepath.Clean(path)] = id
	w.mu.Unlock()
	w.log.Info("watching directory", zap.String("directory", id), zap.String("path", path))
	return nil
}

// Watch keeps path watched until ctx is done. A folder that is missing or
// goes away is retried every interval.
func (w *Watcher) Watch(ctx context.Context, id, path string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	warned := false
	for {
		if !w.watching(path) {
			if err := w.Add(id, path); err != nil {
				if !warned {
					w.log.Warn("directory not watchable yet", zap.String("directory", id), zap.Error(err))
					warned = true
				}
			} else {
				warned = false
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Watcher) watching(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.roots[filepath.Clean(path)]
	return ok
}

// Run processes events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		// fsnotify drops the watch when the root itself goes away.
		w.mu.Lock()
		if id, ok := w.roots[filepath.Clean(ev.Name)]; ok {
			delete(w.roots, filepath.Clean(ev.Name))
			w.log.Info("watched directory removed", zap.String("directory", id))
		}
		w.mu.Unlock()
	}

	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") {
		return
	}

	w.mu.RLock()
	id, ok := w.roots[filepath.Dir(ev.Name)]
	w.mu.RUnlock()
	if !ok {
		return
	}

	var kind string
	switch {
	case ev.Has(fsnotify.Create):
		kind = events.EventCreate
	case ev.Has(fsnotify.Write):
		kind = events.EventModify
	case ev.Has(fsnotify.Remove):
		kind = events.EventDelete
	case ev.Has(fsnotify.Rename):
		kind = events.EventRename
	default:
		return
	}

	w.log.Debug("document changed", zap.String("directory", id), zap.String("name", name), zap.String("type", kind))
	w.out.Publish(events.Event{
		Type:      kind,
		Directory: id,
		Name:      name,
		Timestamp: time.Now().Unix(),
	})
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
