package sensor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// FileWatcher drives a KindFileChange sensor: it watches a set of
// directories with fsnotify and offers every matching change to the
// Kernel as an Event, fingerprinted by path, operation and the second in
// which the event arrived, so the kernel's dedup layer collapses the
// duplicate events fsnotify sometimes emits for a single save. It only
// produces Events for Kernel.Fire; debounce and metrics are left to the
// kernel, which applies them to every sensor kind.
type FileWatcher struct {
	sensorName string
	watcher    *fsnotify.Watcher
	include    []string
	exclude    []string
	kernel     *Kernel
	logger     *slog.Logger
}

// NewFileWatcher creates a FileWatcher for sensorName over dirs, firing
// kernel.Fire for paths matching include (or every path, if include is
// empty) that don't match exclude.
func NewFileWatcher(sensorName string, dirs []string, include, exclude []string, kernel *Kernel) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("sensor %q: creating file watcher: %w", sensorName, err)
	}
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, fmt.Errorf("sensor %q: watching %q: %w", sensorName, dir, err)
		}
	}

	return &FileWatcher{
		sensorName: sensorName,
		watcher:    w,
		include:    include,
		exclude:    exclude,
		kernel:     kernel,
		logger:     slog.Default(),
	}, nil
}

// WithLogger replaces the default slog logger.
func (f *FileWatcher) WithLogger(l *slog.Logger) *FileWatcher {
	f.logger = l
	return f
}

// Close stops the underlying fsnotify watcher.
func (f *FileWatcher) Close() error { return f.watcher.Close() }

// Run blocks, offering matching fsnotify events to the kernel until ctx is
// cancelled or the watcher's channels close.
func (f *FileWatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return nil
			}
			f.handle(ctx, ev)
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("file sensor watcher error", "sensor", f.sensorName, "error", err)
		}
	}
}

func (f *FileWatcher) handle(ctx context.Context, ev fsnotify.Event) {
	if !f.matches(ev.Name) {
		return
	}

	now := time.Now()
	event := Event{
		Fingerprint: fingerprint(ev.Name, ev.Op.String(), now),
		Payload: map[string]interface{}{
			"path": ev.Name,
			"op":   ev.Op.String(),
		},
		Time: now,
	}

	if err := f.kernel.Fire(ctx, f.sensorName, event); err != nil {
		f.logger.Warn("file sensor fire failed", "sensor", f.sensorName, "error", err)
	}
}

func (f *FileWatcher) matches(path string) bool {
	included := len(f.include) == 0
	for _, pattern := range f.include {
		if matchGlob(pattern, path) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, pattern := range f.exclude {
		if matchGlob(pattern, path) {
			return false
		}
	}
	return true
}

func matchGlob(pattern, path string) bool {
	if matched, _ := doublestar.PathMatch(pattern, path); matched {
		return true
	}
	matched, _ := doublestar.Match(pattern, filepath.Base(path))
	return matched
}

// fingerprint content-addresses a file event so the kernel's dedup set can
// collapse the several fsnotify events a single save sometimes produces.
func fingerprint(path, op string, t time.Time) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", path, op, t.Truncate(time.Second).Unix())))
	return hex.EncodeToString(h[:])
}
