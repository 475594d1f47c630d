package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler is called when a watched configuration file changes.
type ChangeHandler func(file string) error

// Watcher hot-reloads configuration files from one directory. Handlers are
// registered per file name and invoked on create/write events.
type Watcher struct {
	dir     string
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu       sync.RWMutex
	handlers map[string][]ChangeHandler
	lastSeen map[string]time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewWatcher creates a watcher over dir. Call Start to begin delivery.
func NewWatcher(dir string, logger *zap.Logger) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("config directory cannot be empty")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		dir:      dir,
		watcher:  fw,
		logger:   logger,
		handlers: make(map[string][]ChangeHandler),
		lastSeen: make(map[string]time.Time),
		stop:     make(chan struct{}),
	}, nil
}

// RegisterHandler subscribes a handler to changes of the named file.
func (w *Watcher) RegisterHandler(file string, h ChangeHandler) {
	w.mu.Lock()
	w.handlers[file] = append(w.handlers[file], h)
	w.mu.Unlock()
}

// Start begins watching the directory.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	go w.loop()
	w.logger.Info("Config watcher started", zap.String("dir", w.dir))
	return nil
}

// Stop halts delivery. Idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.handleChange(filepath.Base(ev.Name))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleChange(file string) {
	w.mu.Lock()
	// Editors fire several events per save; debounce within a short window.
	if t, ok := w.lastSeen[file]; ok && time.Since(t) < 200*time.Millisecond {
		w.mu.Unlock()
		return
	}
	w.lastSeen[file] = time.Now()
	handlers := w.handlers[file]
	w.mu.Unlock()

	if len(handlers) == 0 {
		return
	}
	w.logger.Info("Config file changed, reloading", zap.String("file", file))
	for _, h := range handlers {
		if err := h(file); err != nil {
			w.logger.Error("Config reload handler failed",
				zap.String("file", file), zap.Error(err))
		}
	}
}
