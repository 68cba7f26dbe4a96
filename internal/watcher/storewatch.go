// Package watcher flags external writes to the embedding database with
// fsnotify. The index worker never reconciles automatically; the flag is
// surfaced through stats so an operator can trigger a rebuild.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// StoreWatcher watches the directory holding the database file and raises
// a sticky flag when another process writes to it. Writes made by the
// owning process are suppressed via MarkSelfWrite.
type StoreWatcher struct {
	path     string
	debounce time.Duration
	onChange func()
	logger   *zap.Logger

	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	timer    *time.Timer
	started  bool
	done     chan struct{}
	stopOnce sync.Once

	changed        atomic.Bool
	selfWriteUntil atomic.Int64
}

// StoreWatcherOption configures a StoreWatcher.
type StoreWatcherOption func(*StoreWatcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) StoreWatcherOption {
	return func(w *StoreWatcher) { w.logger = l }
}

// WithDebounce overrides the event debounce window.
func WithDebounce(d time.Duration) StoreWatcherOption {
	return func(w *StoreWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewStoreWatcher creates a watcher over the database at path. onChange is
// called once per debounced external change burst; it may be nil.
func NewStoreWatcher(path string, onChange func(), opts ...StoreWatcherOption) *StoreWatcher {
	w := &StoreWatcher{
		path:     filepath.Clean(path),
		debounce: defaultDebounce,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. The database's directory is watched rather than
// the file itself, so atomic replace-by-rename is still observed.
func (w *StoreWatcher) Start() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to create watched directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	w.mu.Unlock()

	if w.logger != nil {
		w.logger.Debug("store watcher starting", zap.String("path", w.path))
	}
	go w.run()
	return nil
}

func (w *StoreWatcher) run() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("store watcher error", zap.Error(err))
			}
		}
	}
}

func (w *StoreWatcher) handleEvent(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	if !w.matchTarget(ev.Name) {
		return
	}
	if time.Now().UnixNano() < w.selfWriteUntil.Load() {
		return
	}
	if w.logger != nil {
		w.logger.Debug("store watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	}
	w.scheduleFlag()
}

// matchTarget accepts the database file and its WAL companions.
func (w *StoreWatcher) matchTarget(path string) bool {
	base := filepath.Base(filepath.Clean(path))
	want := filepath.Base(w.path)
	if base == want {
		return true
	}
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		if base == want+suffix {
			return true
		}
	}
	// Editors and sqlite tools write through temp siblings.
	return strings.HasPrefix(base, want+".")
}

// scheduleFlag coalesces an event burst into one flag raise.
func (w *StoreWatcher) scheduleFlag() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if time.Now().UnixNano() < w.selfWriteUntil.Load() {
			return
		}
		first := w.changed.CompareAndSwap(false, true)
		if w.logger != nil && first {
			w.logger.Info("database changed externally", zap.String("path", w.path))
		}
		if first && w.onChange != nil {
			w.onChange()
		}
	})
}

// MarkSelfWrite suppresses change detection for the given window. Call it
// around writes issued by this process so they are not reported as
// external.
func (w *StoreWatcher) MarkSelfWrite(window time.Duration) {
	until := time.Now().Add(window).UnixNano()
	for {
		cur := w.selfWriteUntil.Load()
		if cur >= until || w.selfWriteUntil.CompareAndSwap(cur, until) {
			return
		}
	}
}

// ChangedExternally reports whether an unacknowledged external change was
// seen.
func (w *StoreWatcher) ChangedExternally() bool {
	return w.changed.Load()
}

// Acknowledge clears the external change flag, typically after a rebuild.
func (w *StoreWatcher) Acknowledge() {
	w.changed.Store(false)
}

// Stop stops the watcher and releases resources.
func (w *StoreWatcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
