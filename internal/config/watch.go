package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/neboloop/browser-agent/internal/logging"
)

// Watch reloads the user config file whenever it changes and passes the result to onChange.
// The parent directory is watched so editors that replace the file via rename are seen.
// Invalid edits are logged and skipped; the last good config stays in effect.
func (l *Loader) Watch(ctx context.Context, onChange func(Config)) error {
	if l.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go l.watchLoop(ctx, watcher, onChange)
	return nil
}

func (l *Loader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, onChange func(Config)) {
	defer watcher.Close()

	target := filepath.Clean(l.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			logging.Debugf("[config] File event: %s %s", event.Op, event.Name)

			c, err := l.Load()
			if err != nil {
				logging.Warn("config reload rejected", "path", l.path, "error", err)
				continue
			}
			onChange(c)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Errorf("[config] Watch error: %v", err)
		}
	}
}
