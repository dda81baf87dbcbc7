package store

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the list whenever the storage file is changed by someone else
// and calls onChange after a reload that altered the list. Writes made by the
// store itself leave the list unchanged and are ignored. Watch blocks until
// ctx is done.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			s.log.Warn("failed to close block-list watcher", "error", err)
		}
	}()

	// The directory is watched because every write replaces the file by rename.
	target := filepath.Clean(s.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	s.log.Info("watching block-list for external changes", "path", target)

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
			changed, err := s.Reload()
			if err != nil {
				s.log.Error("failed to reload block-list, keeping current entries", "path", target, "error", err)
				continue
			}
			if changed && onChange != nil {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("block-list watcher error", "error", err)
		}
	}
}
