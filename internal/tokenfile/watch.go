package tokenfile

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch signals on the returned channel whenever the token file at path is
// rewritten by another process, so a long-lived session can adopt
// externally refreshed credentials. The watch runs until ctx is canceled.
//
// The parent directory is watched rather than the file itself: atomic
// save (temp + rename) replaces the inode, which would silently drop a
// per-file watch.
func Watch(ctx context.Context, path string, logger *slog.Logger) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("tokenfile: creating watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()

		return nil, fmt.Errorf("tokenfile: watching %s: %w", dir, err)
	}

	changes := make(chan struct{}, 1)

	go func() {
		defer watcher.Close()
		defer close(changes)

		target := filepath.Clean(path)

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

				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
					continue
				}

				logger.Debug("token file changed", slog.String("path", path))

				// Non-blocking: a pending signal already covers this change.
				select {
				case changes <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}

				logger.Warn("token file watch error", slog.String("error", err.Error()))
			}
		}
	}()

	return changes, nil
}
