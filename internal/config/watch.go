package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Watch re-reads the config file whenever it changes and applies the new
// log level. Other settings need a restart. It blocks until ctx is done.
func (c *AppConfig) Watch(ctx context.Context, logger *zap.Logger) error {
	if c.path == "" {
		logger.Debug("No config file, hot reload disabled")
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace files by rename
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", c.path, err)
	}

	logger.Info("Watching config file", zap.String("path", c.path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(c.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			c.reload(logger)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}

func (c *AppConfig) reload(logger *zap.Logger) {
	s, err := load(c.path)
	if err != nil {
		logger.Warn("Ignoring invalid config change", zap.Error(err))
		return
	}

	level, err := zapcore.ParseLevel(s.LogLevel)
	if err != nil {
		logger.Warn("Ignoring invalid log level", zap.String("level", s.LogLevel))
		return
	}

	if level != c.level.Level() {
		c.level.SetLevel(level)
		logger.Info("Log level changed", zap.Stringer("level", level))
	}
}
