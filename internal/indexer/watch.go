package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/codemorph/internal/lang"
	"github.com/dshills/codemorph/internal/storage"
)

// DefaultDebounce is how long the watcher waits for events to settle
const DefaultDebounce = 300 * time.Millisecond

// WatchOptions configures Watch
type WatchOptions struct {
	Debounce time.Duration

	// OnIndex is called after every run triggered by the watcher,
	// including the initial one
	OnIndex func(*Statistics, error)
}

// Watch indexes root, then re-indexes whenever source files change until ctx
// is done. Runs are incremental, so a change costs one file's work. Store
// corruption and model mismatch end the watch; other run errors are reported
// through OnIndex and watching continues.
func (idx *Indexer) Watch(ctx context.Context, root string, config *Config, opts WatchOptions) error {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := addDirsRecursive(watcher, root); err != nil {
		return err
	}

	reindex := func() error {
		stats, err := idx.Index(ctx, root, config)
		if errors.Is(err, ErrIndexInProgress) {
			return err
		}
		if opts.OnIndex != nil {
			opts.OnIndex(stats, err)
		}
		if err != nil && ctx.Err() == nil && fatal(err) {
			return err
		}
		return nil
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	pending := false

	if err := reindex(); err != nil {
		if !errors.Is(err, ErrIndexInProgress) {
			return err
		}
		pending = true
		timer.Reset(debounce)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !skipWatchPath(root, event.Name) && !skipDir(info.Name()) {
						_ = addDirsRecursive(watcher, event.Name)
					}
				}
			}
			if !relevant(root, event) {
				continue
			}
			idx.logger.Debug("change detected", "path", event.Name, "op", event.Op.String())
			pending = true
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			idx.logger.Warn("watcher error", "error", err)

		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			if err := reindex(); err != nil {
				if errors.Is(err, ErrIndexInProgress) {
					pending = true
					timer.Reset(debounce)
					continue
				}
				return err
			}
		}
	}
}

// addDirsRecursive watches dir and every directory discovery would enter
func addDirsRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// relevant reports whether an event can change the index: source files,
// removals of anything (a removed directory has no extension), and .gitignore
func relevant(root string, event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if skipWatchPath(root, event.Name) {
		return false
	}
	name := filepath.Base(event.Name)
	if name == ".gitignore" {
		return true
	}
	if strings.HasPrefix(name, ".") {
		return false
	}
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && filepath.Ext(name) == "" {
		return true
	}
	return lang.ForPath(name) != ""
}

// skipWatchPath reports paths inside skipped directories, including the index itself
func skipWatchPath(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return true
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, part := range parts[:len(parts)-1] {
		if part == storage.DirName || skipDir(part) {
			return true
		}
	}
	return false
}
