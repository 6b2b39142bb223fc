package advisory

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period Watch waits for before refreshing.
// A git pull touches many files at once.
const DefaultDebounce = 500 * time.Millisecond

// Refresher is the part of Store that Watch drives.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Watch refreshes store whenever files under dir change, until ctx is
// done. Bursts of events within debounce collapse into one refresh. New
// subdirectories are watched as they appear.
func Watch(ctx context.Context, store Refresher, dir string, debounce time.Duration, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := addTree(watcher, dir); err != nil {
		return err
	}
	logger.Info("watching advisory db", "dir", dir)

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if isHidden(dir, ev.Name) {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				_ = addTree(watcher, ev.Name)
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			logger.Debug("advisory db changed, refreshing", "dir", dir)
			if err := store.Refresh(ctx); err != nil {
				logger.Warn("advisory reload failed", "err", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("advisory watcher error", "err", err)
		}
	}
}

// addTree watches root and every directory below it. Non-directories are
// ignored.
func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
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

func isHidden(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}
