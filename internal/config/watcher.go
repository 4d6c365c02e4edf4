package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher signals a change to the config document whenever its containing
// directory reports a write or create event; Loader.Watch does the reload. It watches the directory rather than
// the file directly, since some systems don't support watching files
// directly (editors often replace a file rather than writing in place).
type Watcher struct {
	path string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

// NewWatcher returns a Watcher for the config document at path.
func NewWatcher(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to resolve path %s: %w", path, err)
	}
	return &Watcher{path: abs}, nil
}

// Watch starts watching and returns a channel that receives a value each
// time the config file changes, debounced to coalesce rapid writes. The
// channel is closed when ctx is done or Close is called.
func (w *Watcher) Watch(ctx context.Context) (<-chan struct{}, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, fmt.Errorf("config: watcher is closed")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: failed to create file watcher: %w", err)
	}
	w.watcher = fw

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: failed to watch directory %s: %w", dir, err)
	}

	ch := make(chan struct{}, 1)
	go w.loop(ctx, fw, ch)
	return ch, nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, ch chan<- struct{}) {
	defer close(ch)
	defer fw.Close()

	name := filepath.Base(w.path)
	var debounce *time.Timer
	const delay = 200 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(delay, func() {
				select {
				case ch <- struct{}{}:
				default:
				}
			})
		case _, ok := <-fw.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops watching and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.watcher != nil {
		err := w.watcher.Close()
		w.watcher = nil
		return err
	}
	return nil
}
