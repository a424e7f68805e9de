// Package watcher keeps document metadata consistent with blobs that change
// on disk outside the API, using fsnotify over the blob root with debouncing.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ledgerworks/choubo/internal/storage"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches the blob root and patches the size and updated-at of any
// metadata record whose blob changed underneath it.
type Watcher struct {
	store    storage.Store
	blobs    *storage.BlobStore
	root     string
	debounce time.Duration
	logger   *zap.Logger

	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
}

// New creates a watcher over root. Nothing runs until Start.
func New(store storage.Store, blobs *storage.BlobStore, root string, logger *zap.Logger) *Watcher {
	return &Watcher{
		store:       store,
		blobs:       blobs,
		root:        root,
		debounce:    defaultDebounce,
		logger:      logger,
		debounceMap: make(map[string]*time.Timer),
		done:        make(chan struct{}),
	}
}

// Start starts watching. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	if err := w.addTreeLocked(w.root); err != nil {
		_ = w.watcher.Close()
		w.watcher = nil
		w.started = false
		w.mu.Unlock()
		return err
	}
	w.mu.Unlock()
	w.logger.Debug("watcher started", zap.String("root", w.root))
	go w.run(ctx)
	return nil
}

// Stop stops the watcher and cancels pending debounce timers.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		for _, t := range w.debounceMap {
			t.Stop()
		}
		w.debounceMap = make(map[string]*time.Timer)
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
		w.mu.Unlock()
	})
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
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
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.mu.Lock()
			_ = w.addTreeLocked(ev.Name)
			w.mu.Unlock()
			return
		}
	}
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
		return
	}
	w.scheduleSync(ev.Name)
}

// scheduleSync coalesces bursts of writes to the same file into one sync.
func (w *Watcher) scheduleSync(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
	}
	w.debounceMap[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		w.mu.Unlock()
		w.sync(path)
	})
}

// sync re-stats the blob and patches the matching metadata record. Paths
// with no matching record are left alone by the update itself.
func (w *Watcher) sync(path string) {
	rel, ok := w.blobs.RelativePath(path)
	if !ok {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.store.TouchDocumentBlob(ctx, rel, info.Size(), info.ModTime().UTC()); err != nil {
		w.logger.Warn("patch blob metadata", zap.String("path", rel), zap.Error(err))
		return
	}
	w.logger.Debug("patched blob metadata", zap.String("path", rel), zap.Int64("size", info.Size()))
}

func (w *Watcher) addTreeLocked(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}
