// Package watcher watches the source tree and delivers debounced batches
// of file changes.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	perrors "github.com/kohki-shikata/psbg-boilerplate/internal/errors"
	"github.com/kohki-shikata/psbg-boilerplate/internal/logging"
)

// DefaultDelay is the quiet period after the last change before a batch
// is delivered.
const DefaultDelay = 300 * time.Millisecond

// FileWatcher watches directories recursively and debounces their events.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	filters   []FileFilter
	handlers  []ChangeHandler
	logger    logging.Logger
	mutex     sync.RWMutex

	// roots are the recursively watched trees, pending the roots that do
	// not exist yet.
	roots   []string
	pending []string
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type    EventType
	Path    string
	ModTime time.Time
	Size    int64
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileFilter reports whether a path should produce events.
type FileFilter func(path string) bool

// ChangeHandler handles one debounced batch of events.
type ChangeHandler func(ctx context.Context, events []ChangeEvent) error

// NewFileWatcher creates a watcher delivering batches after delay.
func NewFileWatcher(delay time.Duration, logger logging.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if delay <= 0 {
		delay = DefaultDelay
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, perrors.NewInternalError(perrors.ErrCodeInternalError, "failed to create file watcher", err)
	}

	return &FileWatcher{
		watcher:   watcher,
		debouncer: NewDebouncer(delay),
		logger:    logger.WithComponent("watcher"),
	}, nil
}

// AddFilter adds a file filter. Every filter must accept a path for its
// events to be delivered.
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a change handler
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// AddRecursive watches root and every directory below it. A root that
// does not exist yet is waited for through its nearest existing parent and
// watched once it is created.
func (fw *FileWatcher) AddRecursive(root string) error {
	clean := filepath.Clean(root)
	if _, err := os.Stat(clean); errors.Is(err, fs.ErrNotExist) {
		fw.mutex.Lock()
		fw.pending = append(fw.pending, clean)
		fw.mutex.Unlock()
		return fw.watchParent(clean)
	}

	fw.mutex.Lock()
	fw.roots = append(fw.roots, clean)
	fw.mutex.Unlock()
	return fw.addTree(clean)
}

// watchParent watches the nearest existing directory above path, without
// its subdirectories.
func (fw *FileWatcher) watchParent(path string) error {
	dir := filepath.Dir(path)
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			fw.logger.Debug(context.Background(), "Waiting for missing watch root", "path", path, "parent", dir)
			if err := fw.watcher.Add(dir); err != nil {
				return perrors.FileError("watch", dir, err)
			}
			return nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
}

func (fw *FileWatcher) addTree(clean string) error {
	return filepath.WalkDir(clean, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return perrors.FileError("walk", path, err)
		}
		if !d.IsDir() {
			return nil
		}
		if path != clean && IsHidden(path) {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(path); err != nil {
			return perrors.FileError("watch", path, err)
		}
		return nil
	})
}

// WatchList returns the directories currently watched.
func (fw *FileWatcher) WatchList() []string {
	list := fw.watcher.WatchList()
	sort.Strings(list)
	return list
}

// Start runs the event loop, the debouncer and handler dispatch until ctx
// is done.
func (fw *FileWatcher) Start(ctx context.Context) error {
	go fw.debouncer.start(ctx)
	go fw.processEvents(ctx)
	go fw.watchLoop(ctx)
	return nil
}

// Stop stops the file watcher and cleans up resources
func (fw *FileWatcher) Stop() error {
	fw.debouncer.stop()
	return fw.watcher.Close()
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(ctx, event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	if !fw.accepts(event.Name) {
		return
	}

	var modTime time.Time
	var size int64
	if info, err := os.Stat(event.Name); err == nil {
		modTime = info.ModTime()
		size = info.Size()

		if info.IsDir() && event.Op&fsnotify.Create == fsnotify.Create {
			fw.directoryCreated(ctx, event.Name)
		}
	}

	fw.debouncer.Add(ChangeEvent{
		Type:    eventTypeOf(event.Op),
		Path:    event.Name,
		ModTime: modTime,
		Size:    size,
	})
}

func (fw *FileWatcher) accepts(path string) bool {
	fw.mutex.RLock()
	filters := fw.filters
	fw.mutex.RUnlock()

	for _, filter := range filters {
		if !filter(path) {
			return false
		}
	}
	return true
}

// directoryCreated extends the watch to a directory created below a
// watched root, and activates the pending roots that now exist.
func (fw *FileWatcher) directoryCreated(ctx context.Context, dir string) {
	fw.mutex.Lock()
	inRoot := false
	for _, root := range fw.roots {
		if within(root, dir) {
			inRoot = true
			break
		}
	}
	var activated, waiting []string
	for _, p := range fw.pending {
		if _, err := os.Stat(p); err == nil {
			activated = append(activated, p)
			continue
		}
		waiting = append(waiting, p)
	}
	fw.pending = waiting
	fw.roots = append(fw.roots, activated...)
	fw.mutex.Unlock()

	if inRoot {
		fw.addCreatedTree(ctx, dir)
	}
	for _, root := range activated {
		fw.logger.Debug(ctx, "Watch root created", "path", root)
		fw.addCreatedTree(ctx, root)
	}
	// A chain like mkdir -p may have brought a pending root closer, or
	// created it before its parent was watched.
	for _, p := range waiting {
		if err := fw.watchParent(p); err != nil {
			fw.logger.Warn(ctx, err, "Failed to watch parent of missing root", "path", p)
			continue
		}
		if _, err := os.Stat(p); err == nil {
			fw.directoryCreated(ctx, p)
		}
	}
}

// addCreatedTree watches a new directory tree and reports the files that
// appeared in it before the watch was in place.
func (fw *FileWatcher) addCreatedTree(ctx context.Context, dir string) {
	if err := fw.addTree(dir); err != nil {
		fw.logger.Warn(ctx, err, "Failed to watch new directory", "path", dir)
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && IsHidden(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !fw.accepts(path) {
			return nil
		}
		event := ChangeEvent{Type: EventTypeCreated, Path: path}
		if info, err := d.Info(); err == nil {
			event.ModTime = info.ModTime()
			event.Size = info.Size()
		}
		fw.debouncer.Add(event)
		return nil
	})
}

// within reports whether path lies inside (or equals) root.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func eventTypeOf(op fsnotify.Op) EventType {
	switch {
	case op&fsnotify.Create == fsnotify.Create:
		return EventTypeCreated
	case op&fsnotify.Write == fsnotify.Write:
		return EventTypeModified
	case op&fsnotify.Remove == fsnotify.Remove:
		return EventTypeDeleted
	case op&fsnotify.Rename == fsnotify.Rename:
		return EventTypeRenamed
	default:
		return EventTypeModified
	}
}

func (fw *FileWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case events := <-fw.debouncer.Output():
			fw.mutex.RLock()
			handlers := fw.handlers
			fw.mutex.RUnlock()

			for _, handler := range handlers {
				if err := handler(ctx, events); err != nil {
					fw.logger.Error(ctx, err, "File watcher handler error", "events", len(events))
				}
			}
		}
	}
}

// IsHidden reports whether the base name of path starts with a dot.
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return len(base) > 1 && strings.HasPrefix(base, ".") && base != ".."
}

// NoHiddenFilter drops dotfiles. Dot directories are never watched.
func NoHiddenFilter(path string) bool {
	return !IsHidden(path)
}

// NoTempFilter drops editor swap, backup and probe files.
func NoTempFilter(path string) bool {
	base := filepath.Base(path)
	switch {
	case strings.HasSuffix(base, "~"),
		strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#"),
		strings.HasSuffix(base, ".swp"),
		strings.HasSuffix(base, ".swx"),
		strings.HasSuffix(base, ".tmp"),
		base == "4913":
		return false
	}
	return true
}
