package seed

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounce = 200 * time.Millisecond

// Watch runs an initial Sync, then re-syncs shortly after fixture files
// change until ctx is cancelled. Directories created later are watched too.
func Watch(ctx context.Context, s *Syncer, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := s.Dir().Root()
	if err := addDirs(w, root); err != nil {
		return err
	}
	if _, err := s.Sync(ctx); err != nil {
		logger.Warn("seed: initial sync failed", slog.String("error", err.Error()))
	}
	logger.Info("seed: watching", slog.String("root", root))

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("seed: watcher stopped")
			return nil

		case <-timer.C:
			if _, err := s.Sync(ctx); err != nil {
				logger.Warn("seed: sync failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addDirs(w, ev.Name); err != nil {
						logger.Warn("seed: watch new dir failed", slog.String("path", ev.Name), slog.String("error", err.Error()))
					}
					timer.Reset(debounce)
					continue
				}
			}
			if !isFixture(ev.Name) && ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("seed: watcher error", slog.String("error", err.Error()))
		}
	}
}

func addDirs(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
