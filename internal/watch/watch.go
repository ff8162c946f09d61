// Package watch keeps the stored descriptor in step with the property files on
// disk. Editors tend to save through rename, so the parent directories are
// watched rather than the files themselves.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/eugenenazirov/buildcfg/internal/descriptor"
	"github.com/eugenenazirov/buildcfg/internal/storage"
)

const defaultDebounce = 250 * time.Millisecond

// Resolver produces a fresh descriptor.
type Resolver interface {
	Resolve(ctx context.Context) (descriptor.Descriptor, error)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithClock overrides the clock used for debouncing.
func WithClock(clock clockwork.Clock) Option {
	return func(w *Watcher) {
		w.clock = clock
	}
}

// WithDebounce sets how long to wait after the last event before reloading.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Watcher re-resolves the descriptor whenever one of the watched files changes.
type Watcher struct {
	resolver Resolver
	store    storage.Storage
	files    map[string]struct{}
	dirs     []string

	clock    clockwork.Clock
	debounce time.Duration
	logger   *zap.Logger

	reloadMu sync.Mutex

	timerMu sync.Mutex
	timer   clockwork.Timer
}

// New returns a Watcher for files. Paths are cleaned and made absolute.
func New(resolver Resolver, store storage.Storage, files []string, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		resolver: resolver,
		store:    store,
		files:    make(map[string]struct{}, len(files)),
		clock:    clockwork.NewRealClock(),
		debounce: defaultDebounce,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}

	seenDirs := make(map[string]struct{})
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", f, err)
		}
		w.files[abs] = struct{}{}
		dir := filepath.Dir(abs)
		if _, ok := seenDirs[dir]; !ok {
			seenDirs[dir] = struct{}{}
			w.dirs = append(w.dirs, dir)
		}
	}
	return w, nil
}

// Reload resolves and stores a new descriptor. On failure the previous
// snapshot stays in place.
func (w *Watcher) Reload(ctx context.Context) (storage.Snapshot, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	d, err := w.resolver.Resolve(ctx)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("resolve descriptor: %w", err)
	}
	snap, err := w.store.Replace(d)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("store descriptor: %w", err)
	}
	return snap, nil
}

// Run watches until ctx is cancelled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			w.logger.Warn("failed to close watcher", zap.Error(err))
		}
	}()

	for _, dir := range w.dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.logger.Debug("watching directory", zap.String("dir", dir))
	}
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed unexpectedly")
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("property file changed",
				zap.String("path", event.Name),
				zap.String("op", event.Op.String()),
			)
			w.schedule(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed unexpectedly")
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	_, ok := w.files[filepath.Clean(event.Name)]
	return ok
}

// schedule (re)arms the debounce timer.
func (w *Watcher) schedule(ctx context.Context) {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Reset(w.debounce)
		return
	}
	w.timer = w.clock.AfterFunc(w.debounce, func() {
		w.timerMu.Lock()
		w.timer = nil
		w.timerMu.Unlock()

		if ctx.Err() != nil {
			return
		}
		snap, err := w.Reload(ctx)
		if err != nil {
			w.logger.Error("reload failed, keeping previous descriptor", zap.Error(err))
			return
		}
		w.logger.Info("descriptor reloaded", zap.Uint64("revision", snap.Revision))
	})
}

func (w *Watcher) stopTimer() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
