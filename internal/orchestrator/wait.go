package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hal9000-dev/hal9000/internal/errors"
)

// waitForFile blocks until path exists, ctx is done or timeout elapses.
// The parent directory is watched rather than the file itself, since the
// file does not exist yet.
func waitForFile(ctx context.Context, path string, timeout time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	// Created between the caller's action and Add.
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed while waiting for %s", path)
			}
			if event.Op&fsnotify.Create == 0 || filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher closed while waiting for %s", path)
			}
			return fmt.Errorf("error watching for %s: %w", path, err)
		case <-timer.C:
			if _, err := os.Stat(path); err == nil {
				return nil
			}
			return fmt.Errorf("%w: %s did not appear within %s", errors.ErrTimeout, path, timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
