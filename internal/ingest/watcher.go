package ingest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher follows an import directory tree and hands JSONL files to
// onBatch once they have stopped changing for the quiet period.
// Files removed or renamed before settling are dropped.
type Watcher struct {
	fsw     *fsnotify.Watcher
	quiet   time.Duration
	logger  zerolog.Logger
	onBatch func(paths []string)
	clock   func() time.Time

	mu        sync.Mutex
	lastWrite map[string]time.Time

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// NewWatcher creates a watcher that reports settled JSONL files to
// onBatch in path order.
func NewWatcher(
	quiet time.Duration, logger zerolog.Logger,
	onBatch func(paths []string),
) (*Watcher, error) {
	if onBatch == nil {
		return nil, fmt.Errorf("onBatch callback is nil: %w", os.ErrInvalid)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	return &Watcher{
		fsw:       fsw,
		quiet:     quiet,
		logger:    logger,
		onBatch:   onBatch,
		clock:     time.Now,
		lastWrite: make(map[string]time.Time),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// AddTree watches root and every directory beneath it. Directories
// that cannot be read or added are logged and skipped. It returns
// how many directories are now watched.
func (w *Watcher) AddTree(root string) (int, error) {
	added := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			w.logger.Debug().Err(err).Str("dir", path).Msg("skipping directory")
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn().Err(err).Str("dir", path).Msg("cannot watch directory")
			return nil
		}
		added++
		return nil
	})
	if err != nil {
		return added, fmt.Errorf("watching %s: %w", root, err)
	}
	return added, nil
}

// Start processes file events until Stop is called.
func (w *Watcher) Start() {
	go w.run()
}

// Stop ends event processing and releases the fsnotify handle. It
// is safe to call more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stopCh)
		<-w.doneCh
		w.fsw.Close()
	})
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	tick := time.NewTicker(w.quiet)
	defer tick.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.observe(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watcher error")
		case <-tick.C:
			w.flush()
		}
	}
}

// observe records writes to JSONL files, follows new directories
// and forgets files that disappear.
func (w *Watcher) observe(ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.mu.Lock()
		delete(w.lastWrite, ev.Name)
		w.mu.Unlock()
		return
	case ev.Op.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if _, err := w.AddTree(ev.Name); err != nil {
				w.logger.Warn().Err(err).Msg("following new directory")
			}
			return
		}
	case !ev.Op.Has(fsnotify.Write):
		return
	}
	if !isImportFile(filepath.Base(ev.Name)) {
		return
	}
	w.mu.Lock()
	w.lastWrite[ev.Name] = w.clock()
	w.mu.Unlock()
}

// settled removes and returns, sorted, the paths last written at
// least one quiet period before now.
func (w *Watcher) settled(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var ready []string
	for path, at := range w.lastWrite {
		if now.Sub(at) >= w.quiet {
			ready = append(ready, path)
			delete(w.lastWrite, path)
		}
	}
	slices.Sort(ready)
	return ready
}

func (w *Watcher) flush() {
	ready := w.settled(w.clock())
	if len(ready) == 0 {
		return
	}
	w.logger.Info().Int("files", len(ready)).Msg("import files settled")
	w.onBatch(ready)
}
