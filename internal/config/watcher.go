package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ConfigWatcher monitors the YAML config file and re-applies the settings
// that can change at runtime: log level, unknown-limit policy and the admin
// token hash.
type ConfigWatcher struct {
	config   *Config
	path     string
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	stopOnce sync.Once
	debounce time.Duration

	mu       sync.Mutex
	onReload func(*Config)
}

// NewConfigWatcher creates a watcher for the file cfg was loaded from.
func NewConfigWatcher(cfg *Config, onReload func(*Config)) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &ConfigWatcher{
		config:   cfg,
		path:     cfg.FilePath,
		watcher:  watcher,
		stopChan: make(chan struct{}),
		debounce: 100 * time.Millisecond,
		onReload: onReload,
	}, nil
}

// Start begins watching the config file's directory.
func (cw *ConfigWatcher) Start() error {
	if cw.path == "" {
		log.Debug().Msg("No config file to watch")
		return nil
	}
	dir := filepath.Dir(cw.path)
	if err := cw.watcher.Add(dir); err != nil {
		log.Warn().Err(err).Str("path", dir).Msg("Failed to watch config directory")
		return err
	}
	go cw.handleEvents(cw.watcher.Events, cw.watcher.Errors)
	log.Info().Str("path", cw.path).Msg("Started watching config file for changes")
	return nil
}

// Stop stops the config watcher
func (cw *ConfigWatcher) Stop() {
	cw.stopOnce.Do(func() {
		close(cw.stopChan)
		cw.watcher.Close()
	})
}

// ReloadConfig manually triggers a config reload (e.g., from SIGHUP)
func (cw *ConfigWatcher) ReloadConfig() {
	cw.reloadConfig()
}

func (cw *ConfigWatcher) handleEvents(events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(cw.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				// Editors write in several steps.
				time.Sleep(cw.debounce)
				log.Info().Str("event", event.Op.String()).Msg("Detected config file change")
				cw.reloadConfig()
			}
		case err, ok := <-errs:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Config watcher error")
		case <-cw.stopChan:
			return
		}
	}
}

func (cw *ConfigWatcher) reloadConfig() {
	if _, err := os.Stat(cw.path); err != nil {
		log.Warn().Err(err).Str("path", cw.path).Msg("Config file unavailable, keeping current settings")
		return
	}

	fresh := Default()
	if err := fresh.loadFile(cw.path); err != nil {
		log.Error().Err(err).Msg("Failed to reload config file")
		return
	}
	fresh.applyEnv()
	if err := fresh.Validate(); err != nil {
		log.Error().Err(err).Msg("Reloaded config is invalid, keeping current settings")
		return
	}

	Mu.Lock()
	cw.config.Log.Level = fresh.Log.Level
	cw.config.License.UnknownLimitPolicy = fresh.License.UnknownLimitPolicy
	cw.config.License.AdminTokenHash = fresh.License.AdminTokenHash
	Mu.Unlock()

	log.Info().
		Str("log_level", fresh.Log.Level).
		Str("unknown_limit_policy", fresh.License.UnknownLimitPolicy).
		Msg("Applied reloaded configuration")

	cw.mu.Lock()
	cb := cw.onReload
	cw.mu.Unlock()
	if cb != nil {
		cb(cw.config)
	}
}
