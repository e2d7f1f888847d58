// Package watcher turns filesystem notifications for one directory into
// creation events. Watching is non-recursive.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/docrelay/internal/logging"
)

// Event is a file that appeared in the watched directory.
type Event struct {
	Type         EventType
	Path         string
	IsDir        bool
	DiscoveredAt time.Time
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	default:
		return "unknown"
	}
}

// FileFilter determines if a path should be reported
type FileFilter func(path string) bool

// Handler receives events. It is called from the watch goroutine and must
// not block.
type Handler func(Event)

// Watcher is the start/stop/alive capability the service drives.
type Watcher interface {
	Start(ctx context.Context) error
	Stop() error
	IsAlive() bool
}

// FileWatcher watches one directory with fsnotify. It can be started again
// after it stops.
type FileWatcher struct {
	dir     string
	handler Handler
	filters []FileFilter
	logger  logging.Logger

	mutex   sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileWatcher creates a watcher for dir delivering events to handler.
func NewFileWatcher(dir string, handler Handler, logger logging.Logger) *FileWatcher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &FileWatcher{
		dir:     dir,
		handler: handler,
		logger:  logger.WithComponent("watcher"),
	}
}

// AddFilter adds a file filter. All filters must accept a path.
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// Dir returns the watched directory.
func (fw *FileWatcher) Dir() string { return fw.dir }

// Start begins watching. The loop runs until Stop or ctx is done.
func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()

	if fw.watcher != nil {
		return fmt.Errorf("watcher already running")
	}

	info, err := os.Stat(fw.dir)
	if err != nil {
		return fmt.Errorf("watched directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watched path is not a directory")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if err := w.Add(fw.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watching directory: %w", err)
	}

	fw.watcher = w
	fw.done = make(chan struct{})
	go fw.watchLoop(ctx, w, fw.done)

	fw.logger.Info(ctx, "File watcher started", "dir", logging.MaskPath(fw.dir))
	return nil
}

// Stop closes the underlying watcher and waits for the loop to exit.
func (fw *FileWatcher) Stop() error {
	fw.mutex.Lock()
	w, done := fw.watcher, fw.done
	fw.watcher = nil
	fw.mutex.Unlock()

	if w == nil {
		return nil
	}
	err := w.Close()
	<-done

	fw.logger.Info(context.Background(), "File watcher stopped")
	return err
}

// IsAlive reports whether the watch loop is running.
func (fw *FileWatcher) IsAlive() bool {
	fw.mutex.Lock()
	done := fw.done
	running := fw.watcher != nil
	fw.mutex.Unlock()

	if !running || done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (fw *FileWatcher) watchLoop(ctx context.Context, w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(event)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			// Log error but continue watching
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	// moves into the directory arrive as Create too
	if !event.Has(fsnotify.Create) {
		return
	}

	// fsnotify reports names under the watched dir; anything deeper is
	// outside a non-recursive watch
	if filepath.Dir(filepath.Clean(event.Name)) != filepath.Clean(fw.dir) {
		return
	}

	fw.mutex.Lock()
	filters := fw.filters
	fw.mutex.Unlock()

	for _, filter := range filters {
		if !filter(event.Name) {
			return
		}
	}

	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	fw.handler(Event{
		Type:         EventTypeCreated,
		Path:         event.Name,
		IsDir:        isDir,
		DiscoveredAt: time.Now(),
	})
}

// PDFFilter accepts paths with a .pdf extension in any case.
func PDFFilter(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}
