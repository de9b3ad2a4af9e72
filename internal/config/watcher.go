package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ReloadCallback receives the freshly loaded configuration.
type ReloadCallback func(cfg *Config)

// Watcher monitors the config file and reloads it on change. Edits arrive as
// bursts of writes (editors truncate, write, rename), so events are debounced
// and the file is re-read only after it has been quiet for a moment.
type Watcher struct {
	loader   *Loader
	watcher  *fsnotify.Watcher
	onReload ReloadCallback
	debounce time.Duration
	logger   zerolog.Logger
	done     chan struct{}
	stopOnce sync.Once
	timerMu  sync.Mutex
	timer    *time.Timer
}

// NewWatcher creates a watcher for the loader's config file.
func NewWatcher(loader *Loader, onReload ReloadCallback, logger zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		loader:   loader,
		watcher:  fsw,
		onReload: onReload,
		debounce: 200 * time.Millisecond,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching the config file's directory. Watching the directory
// instead of the file survives the rename dance editors do on save.
func (w *Watcher) Start() error {
	configPath := w.loader.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to determine config path")
	}

	if err := w.watcher.Add(filepath.Dir(configPath)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.eventLoop(configPath)

	w.logger.Info().Str("path", configPath).Msg("Config watcher started")
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *Watcher) eventLoop(configPath string) {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to reload config")
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Error().Err(err).Msg("Reloaded config is invalid, keeping current")
		return
	}

	w.logger.Info().Msg("Config reloaded")
	w.onReload(cfg)
}
