package runsession

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/lavallee/cub/internal/logx"
)

// WatchActiveRun notifies on every change to the active-run symlink
// (creation, removal, replacement) until ctx is cancelled. Used by
// secondary tooling (status displays, external dashboards) that want to
// react to a run starting or ending without polling.
func (m *Manager) WatchActiveRun(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(m.cubRoot); err != nil {
		return err
	}

	logger := logx.NewComponentLogger("runsession:watch")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name == m.activeRunLink() {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error: %v", err)
		}
	}
}
