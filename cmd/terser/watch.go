package main

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounceTime = 200 * time.Millisecond

// watch calls run whenever files below dir change, coalescing bursts of events.
// Changes below ignore, usually the target directory, do not trigger a run.
// It returns when ctx is done.
func watch(ctx context.Context, dir, ignore string, logger *zap.Logger, run func(context.Context)) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if ignore != "" {
		abs, err := filepath.Abs(ignore)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", ignore, err)
		}
		ignore = abs
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := addTree(watcher, root, ignore); err != nil {
		return fmt.Errorf("failed to add watch paths: %w", err)
	}

	logger.Info("Watching for file changes...", zap.String("dir", root))

	var (
		timer   *time.Timer
		trigger = make(chan struct{}, 1)
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if within(ignore, event.Name) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				// New directories need their own watch.
				_ = addTree(watcher, event.Name, ignore)
			}
			logger.Debug("File changed", zap.String("path", event.Name), zap.String("op", event.Op.String()))

			if timer == nil {
				timer = time.AfterFunc(debounceTime, func() {
					select {
					case trigger <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(debounceTime)
			}

		case <-trigger:
			run(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error", zap.Error(err))
		}
	}
}

// addTree watches root and every directory below it except ignore. Files are ignored.
func addTree(watcher *fsnotify.Watcher, root, ignore string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if within(ignore, path) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// within reports whether path is dir or lies below it. Both must be absolute.
func within(dir, path string) bool {
	if dir == "" {
		return false
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
