package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// DefaultReloadDebounce collapses the burst of events editors emit on save.
const DefaultReloadDebounce = 250 * time.Millisecond

// Watch reloads the configuration whenever the loaded file changes, until
// ctx is cancelled. The parent directory is watched so atomic renames are
// seen as well as in-place writes.
func (cm *ConfigManager) Watch(ctx context.Context, debounce time.Duration) error {
	path := cm.ConfigPath()
	if path == "" {
		return fmt.Errorf("no config path set")
	}
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go cm.watchLoop(ctx, watcher, absPath, debounce)
	return nil
}

func (cm *ConfigManager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, debounce time.Duration) {
	defer watcher.Close()

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			cm.log().Error("config watcher error", "error", err)

		case <-timer.C:
			if err := cm.Reload(); err != nil {
				cm.log().Error("config reload rejected, keeping previous configuration", "error", err)
				continue
			}
			cm.log().Info("configuration reloaded", "path", path)
		}
	}
}

func (cm *ConfigManager) log() hclog.Logger {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.logger
}
