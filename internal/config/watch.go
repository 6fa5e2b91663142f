package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	appLog "calclock/internal/log"
)

const reloadDebounce = 200 * time.Millisecond

// Watch reloads the config at path whenever the file changes and passes
// the new value to onChange. Invalid edits are logged and ignored; the
// previous config stays in effect. It returns when ctx is cancelled.
//
// The parent directory is watched rather than the file, since editors and
// Save itself replace the file by rename.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case <-fire:
			fire = nil
			cfg, err := Load(abs)
			if err != nil {
				appLog.Error("config reload failed; keeping previous config", err, "path", abs)
				continue
			}
			appLog.Info("config reloaded", "path", abs)
			onChange(cfg)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			appLog.Error("config watcher error", err)
		}
	}
}
