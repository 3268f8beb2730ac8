package script

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Loader loads a Script from its source file; Watcher calls it again
// whenever that file changes on disk.
// Scripts are treated as config, not code under version control by the
// server: a watched file, swapped in atomically between events.
type Loader func(path string) (Script, error)

// Watcher wraps a Script with hot-reload support. Dispatch always runs
// against the most recently loaded Script.
type Watcher struct {
	mu      sync.RWMutex
	current Script
	path    string
	load    Loader
	log     *slog.Logger
	fsw     *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher loads path once via load, then watches it for writes and
// reloads on change. If the initial load fails, err is returned and no
// Watcher is created — the caller should fall back to Noop{}.
func NewWatcher(path string, load Loader, log *slog.Logger) (*Watcher, error) {
	s, err := load(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{
		current: s,
		path:    path,
		load:    load,
		log:     log,
		fsw:     fsw,
		done:    make(chan struct{}),
	}
	go w.watchLoop()
	return w, nil
}

func (w *Watcher) watchLoop() {
	// Writers frequently emit several events (truncate+write, or a
	// rename-into-place from an editor's atomic save) for one logical
	// change; debounce briefly before reloading.
	var debounce *time.Timer
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, w.reload)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Warn("script: watcher error", "err", err)
			}
		}
	}
}

func (w *Watcher) reload() {
	s, err := w.load(w.path)
	if err != nil {
		if w.log != nil {
			w.log.Warn("script: reload failed, keeping previous script", "path", w.path, "err", err)
		}
		return
	}
	w.mu.Lock()
	w.current = s
	w.mu.Unlock()
	if w.log != nil {
		w.log.Info("script: reloaded", "path", w.path)
	}
}

// Dispatch implements Script by delegating to the currently loaded
// script. A script error here is logged and its actions discarded; it
// must never tear down the server (spec.md §7).
func (w *Watcher) Dispatch(ev Event) ([]Action, error) {
	w.mu.RLock()
	s := w.current
	w.mu.RUnlock()
	actions, err := s.Dispatch(ev)
	if err != nil && w.log != nil {
		w.log.Warn("script: dispatch error, discarding actions", "err", err)
	}
	return actions, err
}

// Close stops the file watcher goroutine.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
