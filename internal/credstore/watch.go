package credstore

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the store when the device config file changes on disk.
// The web configuration UI rewrites the file while the daemon runs, so an
// external edit must become visible without a restart. Watch blocks until
// ctx is cancelled; it is meant to run in its own goroutine.
//
// The parent directory is watched rather than the file itself: atomic
// writers replace the file by rename, which would otherwise drop the
// watch.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return err
	}

	// Editors and atomic writers emit bursts of events; debounce so one
	// save triggers one reload.
	var pending *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(250*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			if err := s.Reload(); err != nil {
				s.log.Warn("reload after external edit failed", "error", err)
			} else {
				s.log.Debug("device config reloaded after external edit")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("device config watcher error", "error", err)
		}
	}
}
