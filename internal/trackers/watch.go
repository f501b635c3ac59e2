package trackers

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// LoadLocal merges the tracker list stored at path.
func (idx *Index) LoadLocal(path string) (int, error) {
	list, err := LoadFile(path)
	if err != nil {
		return 0, err
	}
	n := idx.Merge(list)
	idx.logger.Info().Str("path", path).Int("merged", n).Msg("loaded local tracker file")
	return n, nil
}

// WatchFile merges the file at path every time it is written or replaced,
// until ctx is done. The parent directory is watched so editors that save
// by rename are still picked up.
func (idx *Index) WatchFile(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if _, err := idx.LoadLocal(path); err != nil {
				idx.logger.Warn().Err(err).Str("path", path).Msg("failed to reload local tracker file")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			idx.logger.Warn().Err(err).Str("path", path).Msg("tracker file watcher error")
		}
	}
}
