package config

import (
	"errors"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a config file when it changes on disk.
type Watcher struct {
	path   string
	logger *zap.Logger
}

// NewWatcher returns a watcher for path. Path resolution follows Load.
func NewWatcher(path string, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{path: path, logger: logger}
}

// Start loads the file and invokes onChange with every valid revision that
// follows. Revisions that fail to parse or validate are logged and skipped,
// leaving the previous configuration in effect.
func (w *Watcher) Start(onChange func(*Config)) (*Config, error) {
	v, err := newViper(w.path)
	if err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() == "" {
		return nil, errors.New("no config file to watch")
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			w.logger.Warn("Ignoring invalid config revision",
				zap.String("file", e.Name),
				zap.Error(err),
			)
			return
		}
		w.logger.Info("Configuration reloaded", zap.String("file", e.Name))
		onChange(next)
	})
	v.WatchConfig()

	return cfg, nil
}
