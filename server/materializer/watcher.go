package materializer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gear6io/gharp/pkg/errors"
	"github.com/rs/zerolog"
)

// WatcherComponentType is the directory watcher's component name
const WatcherComponentType = "watcher"

// Watcher keeps the tables of one data directory in step with the files in
// it: new and modified files are materialized, deleted ones are removed.
// Bursts of events on the same file are collapsed into one update.
type Watcher struct {
	m        *Materializer
	dir      string
	debounce time.Duration
	fs       *fsnotify.Watcher
	logger   zerolog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// OnSync, when set, is called after each file update
	OnSync func(path string, err error)
}

// NewWatcher creates a watcher over dir. Call Start to begin watching.
func NewWatcher(m *Materializer, dir string, debounce time.Duration, logger zerolog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.New(ErrWatch, "invalid directory", err).AddContext("dir", dir)
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.New(ErrWatch, "failed to create file watcher", err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		m:        m,
		dir:      abs,
		debounce: debounce,
		fs:       fs,
		timers:   make(map[string]*time.Timer),
		logger:   logger.With().Str("component", WatcherComponentType).Str("dir", abs).Logger(),
	}, nil
}

// GetType returns the component type
func (w *Watcher) GetType() string {
	return WatcherComponentType
}

// Start subscribes to the directory and handles events until Shutdown
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fs.Add(w.dir); err != nil {
		return errors.New(ErrWatch, "failed to watch directory", err).AddContext("dir", w.dir)
	}
	w.ctx, w.cancel = context.WithCancel(context.WithoutCancel(ctx))

	w.wg.Add(1)
	go w.loop()
	w.logger.Info().Dur("debounce", w.debounce).Msg("Watching data directory")
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("File watcher error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if filepath.Dir(ev.Name) != w.dir || !w.m.scanner.Accepts(filepath.Base(ev.Name)) {
		return
	}
	if ev.Op == fsnotify.Chmod {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.timers[ev.Name]; ok && t.Stop() {
		w.wg.Done()
	}
	path := ev.Name
	w.wg.Add(1)
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.sync(path)
	})
}

// sync brings one path's table up to date with the file system
func (w *Watcher) sync(path string) {
	ctx := w.ctx
	var err error
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		err = w.m.Remove(ctx, path, false)
		w.logger.Debug().Str("file", filepath.Base(path)).Msg("Watched file deleted")
	} else {
		var current bool
		current, err = w.m.IsCurrent(ctx, path)
		if err == nil && !current {
			_, err = w.m.Materialize(ctx, path)
		}
	}
	if err != nil {
		w.logger.Warn().Err(err).Str("file", filepath.Base(path)).Msg("Failed to sync watched file")
	}
	if w.OnSync != nil {
		w.OnSync(path, err)
	}
}

// Shutdown stops watching and waits for pending updates
func (w *Watcher) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for path, t := range w.timers {
		// a stopped timer never runs its func, so release its slot here
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, path)
	}
	w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}
	err := w.fs.Close()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err != nil {
		return errors.New(ErrWatch, "failed to close file watcher", err)
	}
	w.logger.Info().Msg("Stopped watching data directory")
	return nil
}
