package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/ad/go-telegram-tutor/internal/log"
)

const DefaultDebounce = 300 * time.Millisecond

// WatcherConfig configures a catalog file watcher.
type WatcherConfig struct {
	Path     string
	Debounce time.Duration
	// OnReload receives every catalog that parsed successfully.
	OnReload func(*Catalog)
	Logger   logrus.FieldLogger
}

func (c *WatcherConfig) defaults() error {
	if c.Path == "" {
		return fmt.Errorf("catalog path is required")
	}
	if c.OnReload == nil {
		return fmt.Errorf("reload callback is required")
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	c.Logger = log.For(c.Logger, "registry.Watcher")
	return nil
}

// Watcher reloads a catalog file whenever it changes on disk. Files that fail
// to parse are logged and ignored; the last good catalog stays active.
type Watcher struct {
	path     string
	debounce time.Duration
	onReload func(*Catalog)
	logger   logrus.FieldLogger

	mu    sync.Mutex
	timer *time.Timer
}

func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     path,
		debounce: cfg.Debounce,
		onReload: cfg.OnReload,
		logger:   cfg.Logger,
	}, nil
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("could not create fs watcher: %w", err)
	}
	defer fsw.Close()

	// Editors often replace the file atomically, so watch the directory.
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("could not watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Infof("Watching catalog %s", w.path)

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				w.schedule()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warningf("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *Watcher) reload() {
	catalog, err := LoadFile(w.path)
	if err != nil {
		w.logger.Errorf("Catalog reload failed, keeping previous catalog: %v", err)
		return
	}
	w.logger.Infof("Catalog reloaded with %d flows", len(catalog.flows))
	w.onReload(catalog)
}
