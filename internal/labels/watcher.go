package labels

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Watcher holds the current Table and swaps it when the file changes.
type Watcher struct {
	path    string
	current atomic.Pointer[Table]
}

// NewWatcher performs the initial load.
func NewWatcher(path string) (*Watcher, error) {
	t, err := Load(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: path}
	w.current.Store(t)
	return w, nil
}

// Resolve resolves against the latest successfully loaded table.
func (w *Watcher) Resolve(id int) string {
	return w.current.Load().Resolve(id)
}

// Table returns the latest table.
func (w *Watcher) Table() *Table {
	return w.current.Load()
}

// Reload forces an immediate re-read. The previous table is kept on error.
func (w *Watcher) Reload() error {
	t, err := Load(w.path)
	if err != nil {
		return err
	}
	w.current.Store(t)
	return nil
}

// Watch starts a background goroutine that reloads the file on change.
// Call the returned stop function to clean up.
func (w *Watcher) Watch() (stop func(), err error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("labels watcher: %w", err)
	}
	if err := fw.Add(w.path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("labels watcher add %s: %w", w.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer fw.Close()
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if err := w.Reload(); err != nil {
						slog.Warn("labels reload failed, keeping previous table", "path", w.path, "error", err)
						continue
					}
					slog.Info("labels reloaded", "path", w.path, "count", w.current.Load().Len())
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				slog.Warn("labels watcher error", "error", err)
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}
