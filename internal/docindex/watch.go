package docindex

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

// DefaultDebounce is how long the watcher waits for a burst of file system
// events to settle before rebuilding.
const DefaultDebounce = 100 * time.Millisecond

// Watcher rebuilds a Store when markdown files under root change.
type Watcher struct {
	root     string
	store    *Store
	debounce time.Duration
	w        *fsnotify.Watcher
}

// NewWatcher watches root and all its non-hidden subdirectories.
func NewWatcher(root string, store *Store, debounce time.Duration) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	wa := &Watcher{root: root, store: store, debounce: debounce, w: w}
	if err := wa.addTree(root); err != nil {
		_ = w.Close()
		return nil, err
	}
	return wa, nil
}

// Watch watches root and rebuilds store until ctx is canceled.
func Watch(ctx context.Context, root string, store *Store) error {
	w, err := NewWatcher(root, store, DefaultDebounce)
	if err != nil {
		return err
	}
	w.Run(ctx)
	return nil
}

// Run processes events until ctx is canceled, then closes the watcher.
func (wa *Watcher) Run(ctx context.Context) {
	defer func() { _ = wa.w.Close() }()
	timer := time.NewTimer(wa.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-wa.w.Events:
			if !ok {
				return
			}
			if !wa.relevant(event) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					if err := wa.addTree(event.Name); err != nil {
						slog.WarnContext(ctx, "Failed to watch new directory", "dir", event.Name, "err", err)
					}
				}
			}
			timer.Reset(wa.debounce)
		case <-timer.C:
			if err := wa.store.Rebuild(ctx); err != nil {
				slog.WarnContext(ctx, "Failed to rebuild index", "root", wa.root, "err", err)
			}
		case err, ok := <-wa.w.Errors:
			if !ok {
				return
			}
			slog.WarnContext(ctx, "Error watching asset root", "err", err)
		}
	}
}

// relevant reports whether event may change the index: markdown files and
// directories, ignoring hidden entries and pure chmods.
func (wa *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	rel, err := filepath.Rel(wa.root, event.Name)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return false
		}
	}
	if strings.HasSuffix(event.Name, Ext) {
		return true
	}
	// Removed or renamed entries can no longer be inspected; a directory
	// going away changes the index too.
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		return filepath.Ext(event.Name) == ""
	}
	fi, err := os.Stat(event.Name)
	return err == nil && fi.IsDir()
}

func (wa *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return wa.w.Add(p)
	})
}
