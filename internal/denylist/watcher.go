package denylist

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherStats tracks reload statistics.
type WatcherStats struct {
	ReloadsTotal   int64     `json:"reloads_total"`
	ReloadsSuccess int64     `json:"reloads_success"`
	ReloadsFailed  int64     `json:"reloads_failed"`
	LastReload     time.Time `json:"last_reload,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

// Watcher reloads a file-backed denylist when the file changes.
type Watcher struct {
	loader   *Loader
	path     string
	debounce time.Duration
	onReload func(err error)
	logger   *slog.Logger

	mu    sync.Mutex
	stats WatcherStats
}

// WatcherConfig configures the denylist watcher.
type WatcherConfig struct {
	Path     string
	Loader   *Loader
	Debounce time.Duration // Debounce period for rapid changes
	OnReload func(err error)
	Logger   *slog.Logger
}

// NewWatcher creates a watcher for a denylist file.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("denylist path is required")
	}
	if cfg.Loader == nil {
		return nil, fmt.Errorf("denylist loader is required")
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", cfg.Path, err)
	}
	return &Watcher{
		loader:   cfg.Loader,
		path:     abs,
		debounce: debounce,
		onReload: cfg.OnReload,
		logger:   logger,
	}, nil
}

// Run watches the directory holding the denylist file, so editors that
// replace the file by rename are seen too, and reloads after the debounce
// period. It blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching directory: %w", err)
	}
	w.logger.Info("watching denylist", "path", w.path)

	var pending time.Time
	ticker := time.NewTicker(max(w.debounce/2, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.Now()
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("denylist watcher error", "error", err)

		case <-ticker.C:
			if !pending.IsZero() && time.Since(pending) >= w.debounce {
				pending = time.Time{}
				w.reload(ctx)
			}

		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	err := w.loader.Load(ctx)

	w.mu.Lock()
	w.stats.ReloadsTotal++
	if err != nil {
		w.stats.ReloadsFailed++
		w.stats.LastError = err.Error()
	} else {
		w.stats.ReloadsSuccess++
		w.stats.LastReload = time.Now()
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Warn("denylist reload failed, keeping previous entries", "path", w.path, "error", err)
	}
	if w.onReload != nil {
		w.onReload(err)
	}
}

// Stats returns the current watcher statistics.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}
