package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadHandler receives the freshly loaded configuration after a file
// change. Handlers must tolerate being called concurrently with reads of
// the previous configuration.
type ReloadHandler func(cfg *Config)

// Manager watches the config file and re-applies the hot-reloadable subset
// (log level, streaming ring capacity) when it changes. Invalid new
// configurations are logged and skipped; the previous one stays active.
type Manager struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu       sync.Mutex
	handlers []ReloadHandler
	stopCh   chan struct{}
	started  bool

	// debounce collapses the editor write/rename event bursts.
	debounce time.Duration
}

func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	if path == "" {
		return nil, fmt.Errorf("config: manager needs an explicit file path")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	return &Manager{
		path:     path,
		watcher:  watcher,
		logger:   logger,
		stopCh:   make(chan struct{}),
		debounce: 200 * time.Millisecond,
	}, nil
}

// OnReload registers a handler invoked after every successful reload.
func (m *Manager) OnReload(fn ReloadHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, fn)
}

// Start begins watching. Watching the directory rather than the file keeps
// the watch alive across the atomic rename most editors and config mounts
// use.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	dir := filepath.Dir(m.path)
	if err := m.watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}
	go m.watchLoop()
	return nil
}

func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	close(m.stopCh)
	m.watcher.Close()
}

func (m *Manager) watchLoop() {
	var timer *time.Timer
	target := filepath.Clean(m.path)
	for {
		select {
		case <-m.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(m.debounce, m.reload)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) reload() {
	cfg, err := Load(m.path)
	if err != nil {
		m.logger.Warn("config reload rejected", zap.String("path", m.path), zap.Error(err))
		return
	}
	m.logger.Info("config reloaded",
		zap.String("path", m.path),
		zap.String("log_level", cfg.Logging.Level),
		zap.Int("ring_capacity", cfg.Streaming.RingCapacity),
	)
	m.mu.Lock()
	handlers := make([]ReloadHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()
	for _, fn := range handlers {
		fn(cfg)
	}
}
