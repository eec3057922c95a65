package scenarios

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads the override directory into a Holder whenever files
// change. A reload that fails validation is logged and the previous catalog
// stays live.
type Watcher struct {
	Dir      string
	Holder   *Holder
	Toolkit  Toolkit
	Logger   *slog.Logger
	Debounce time.Duration

	// OnReload, when set, observes every reload attempt.
	OnReload func(*Catalog, error)

	mu sync.Mutex
}

// Run watches Dir until ctx is done. The directory must exist.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.Dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", w.Dir, err)
	}

	delay := w.Debounce
	if delay <= 0 {
		delay = DefaultDebounce
	}
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isYAML(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(delay, func() { _ = w.Reload() })
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger().Warn("scenario watcher error", "error", err)
		}
	}
}

// Reload rebuilds the catalog from the embedded scenarios and Dir.
func (w *Watcher) Reload() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	c, err := Load(w.Dir, w.Toolkit)
	if err != nil {
		w.logger().Warn("scenario reload rejected", "dir", w.Dir, "error", err)
	} else {
		w.Holder.Store(c)
		w.logger().Info("scenarios reloaded", "dir", w.Dir, "scenarios", len(c.Names()))
	}
	if w.OnReload != nil {
		w.OnReload(c, err)
	}
	return err
}

func (w *Watcher) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}
