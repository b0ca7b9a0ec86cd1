package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"certgate/internal/logging"
)

// Watcher reloads the config file when it changes on disk, so pipeline
// tunables (retry budget, timeouts, the arbiter short-circuit flag) can be
// adjusted without a restart. Provider and reviewer bindings are not rebuilt
// on reload.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	path        string
	onReload    func(*Config)
	pendingAt   time.Time // zero when no event awaits settling
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewWatcher creates a watcher for the given config path. onReload is called
// with each successfully reloaded config; reloads that fail validation are
// logged and dropped, keeping the previous config in effect.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fw,
		path:        path,
		onReload:    onReload,
		debounceDur: 500 * time.Millisecond, // editors fire bursts of writes
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the watch loop runs in a goroutine
// until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Watch the directory: editors replace files on save, which drops
	// per-file watches.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	go w.loop(ctx)
	return nil
}

// Stop terminates the watch loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	_ = w.watcher.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	log := logging.Get(logging.CategoryConfig)
	defer close(w.doneCh)

	// Save bursts are batched: each event restarts the settle clock and the
	// file is loaded only after it stops changing, so a reload always sees
	// the last write of a burst.
	settleTicker := time.NewTicker(w.debounceDur / 4)
	defer settleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.mu.Lock()
			w.pendingAt = time.Now()
			w.mu.Unlock()
		case <-settleTicker.C:
			w.mu.Lock()
			settled := !w.pendingAt.IsZero() && time.Since(w.pendingAt) >= w.debounceDur
			if settled {
				w.pendingAt = time.Time{}
			}
			w.mu.Unlock()
			if !settled {
				continue
			}

			cfg, err := Load(w.path)
			if err != nil {
				log.Warn("config reload rejected", zap.String("path", w.path), zap.Error(err))
				continue
			}
			log.Info("config reloaded", zap.String("path", w.path))
			w.onReload(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("config watcher error", zap.Error(err))
		}
	}
}
