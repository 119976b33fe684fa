// Package watcher turns filesystem changes to host pages into debounced
// change batches. In the dev server it plays the live-editing host: a page
// edit on disk is the same signal as an authoring system replacing a
// document subtree.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anchor-ui/anchor/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// PageWatcher watches for page file changes with debouncing.
type PageWatcher struct {
	watcher   *fsnotify.Watcher
	debouncer *debouncer
	logger    logging.Logger

	mutex    sync.RWMutex
	filters  []Filter
	handlers []Handler
}

// ChangeEvent represents one file change.
type ChangeEvent struct {
	Type    EventType
	Path    string
	ModTime time.Time
}

// EventType represents the type of file change.
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

// Filter decides whether a path is interesting.
type Filter func(path string) bool

// Handler consumes a debounced batch of changes.
type Handler func(events []ChangeEvent) error

// debouncer groups rapid file changes together
type debouncer struct {
	delay   time.Duration
	events  chan ChangeEvent
	output  chan []ChangeEvent
	timer   *time.Timer
	pending []ChangeEvent
	mutex   sync.Mutex
}

// NewPageWatcher creates a watcher with the given debounce delay.
func NewPageWatcher(debounceDelay time.Duration, logger logging.Logger) (*PageWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewTestLogger()
	}

	return &PageWatcher{
		watcher: fsw,
		debouncer: &debouncer{
			delay:   debounceDelay,
			events:  make(chan ChangeEvent, 100),
			output:  make(chan []ChangeEvent, 10),
			pending: make([]ChangeEvent, 0),
		},
		logger: logger.WithComponent("watcher"),
	}, nil
}

// AddFilter adds a path filter; all filters must pass.
func (pw *PageWatcher) AddFilter(filter Filter) {
	pw.mutex.Lock()
	defer pw.mutex.Unlock()
	pw.filters = append(pw.filters, filter)
}

// AddHandler adds a change batch handler.
func (pw *PageWatcher) AddHandler(handler Handler) {
	pw.mutex.Lock()
	defer pw.mutex.Unlock()
	pw.handlers = append(pw.handlers, handler)
}

// AddPath watches one file or directory.
func (pw *PageWatcher) AddPath(path string) error {
	return pw.watcher.Add(filepath.Clean(path))
}

// AddRecursive watches a directory tree.
func (pw *PageWatcher) AddRecursive(root string) error {
	return filepath.Walk(filepath.Clean(root), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return pw.watcher.Add(path)
		}
		return nil
	})
}

// Start runs the watch, debounce, and dispatch loops until ctx is done.
func (pw *PageWatcher) Start(ctx context.Context) {
	go pw.debouncer.start(ctx)
	go pw.dispatchLoop(ctx)
	go pw.watchLoop(ctx)
}

// Stop stops the watcher and releases its resources.
func (pw *PageWatcher) Stop() error {
	pw.debouncer.mutex.Lock()
	if pw.debouncer.timer != nil {
		pw.debouncer.timer.Stop()
	}
	pw.debouncer.mutex.Unlock()
	return pw.watcher.Close()
}

func (pw *PageWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			pw.handleFsnotifyEvent(event)
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			pw.logger.Warn(ctx, err, "watch error, continuing")
		}
	}
}

func (pw *PageWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	pw.mutex.RLock()
	filters := pw.filters
	pw.mutex.RUnlock()

	for _, filter := range filters {
		if !filter(event.Name) {
			return
		}
	}

	var modTime time.Time
	if info, err := os.Stat(event.Name); err == nil {
		modTime = info.ModTime()
	}

	var eventType EventType
	switch {
	case event.Op.Has(fsnotify.Create):
		eventType = EventTypeCreated
	case event.Op.Has(fsnotify.Write):
		eventType = EventTypeModified
	case event.Op.Has(fsnotify.Remove):
		eventType = EventTypeDeleted
	case event.Op.Has(fsnotify.Rename):
		eventType = EventTypeRenamed
	default:
		eventType = EventTypeModified
	}

	select {
	case pw.debouncer.events <- ChangeEvent{Type: eventType, Path: event.Name, ModTime: modTime}:
	default:
		// Channel full, skip this event
	}
}

func (pw *PageWatcher) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case events := <-pw.debouncer.output:
			pw.mutex.RLock()
			handlers := pw.handlers
			pw.mutex.RUnlock()

			for _, handler := range handlers {
				if err := handler(events); err != nil {
					pw.logger.Warn(ctx, err, "change handler failed, continuing")
				}
			}
		}
	}
}

func (d *debouncer) start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-d.events:
			d.addEvent(event)
		}
	}
}

func (d *debouncer) addEvent(event ChangeEvent) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.pending = append(d.pending, event)

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

func (d *debouncer) flush() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if len(d.pending) == 0 {
		return
	}

	// Deduplicate by path, keeping the latest event.
	byPath := make(map[string]ChangeEvent)
	for _, event := range d.pending {
		byPath[event.Path] = event
	}
	events := make([]ChangeEvent, 0, len(byPath))
	for _, event := range byPath {
		events = append(events, event)
	}

	select {
	case d.output <- events:
	default:
		// Channel full, skip
	}

	d.pending = d.pending[:0]
}

// PageFilter matches HTML host pages.
func PageFilter(path string) bool {
	switch filepath.Ext(path) {
	case ".html", ".htm":
		return true
	default:
		return false
	}
}

// ExcludeFilter skips paths matching any of the given glob patterns. Each
// pattern is tried against the full path and against the base name, so both
// "*.tmp" and "build/*.html" styles work.
func ExcludeFilter(patterns []string) Filter {
	return func(path string) bool {
		for _, pattern := range patterns {
			if matched, err := filepath.Match(pattern, path); err == nil && matched {
				return false
			}
			if matched, err := filepath.Match(pattern, filepath.Base(path)); err == nil && matched {
				return false
			}
		}
		return true
	}
}

// NoHiddenFilter skips dotfiles and hidden directories.
func NoHiddenFilter(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return false
		}
	}
	return true
}
