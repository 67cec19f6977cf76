package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/peermention/internal/logging"
	"github.com/mesh-intelligence/peermention/internal/paths"
	"github.com/mesh-intelligence/peermention/pkg/types"
)

// WatchLists calls apply with the reloaded record each time lists.json in
// dir is written or replaced, until ctx is done. The directory is watched
// rather than the file because SaveLists replaces it by rename. A record
// that fails to load is logged and skipped.
func WatchLists(ctx context.Context, dir string, logger *zap.Logger, apply func(types.Lists)) error {
	logger = logging.OrNop(logger).Named("config")

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != paths.ListsFileName || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			lists, err := LoadLists(dir)
			if err != nil {
				logger.Warn("reload lists", zap.Error(err))
				continue
			}
			logger.Info("lists reloaded",
				zap.Strings("blacklist", lists.Blacklist),
				zap.Strings("whitelist", lists.Whitelist))
			apply(lists)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch lists", zap.Error(err))
		}
	}
}
