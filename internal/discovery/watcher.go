package discovery

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/llehouerou/shelf/internal/tags"
)

// DefaultDebounce is how long file events must settle before a cycle is triggered.
const DefaultDebounce = 2 * time.Second

// watcher calls trigger once audio file events in a tree settle.
type watcher struct {
	fs       *fsnotify.Watcher
	debounce time.Duration
	trigger  func()
	logger   *zap.Logger

	mu      sync.Mutex
	timer   *time.Timer
	stop    chan struct{}
	stopped chan struct{}
}

func newWatcher(root string, debounce time.Duration, logger *zap.Logger, trigger func()) (*watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &watcher{
		fs:       fsw,
		debounce: debounce,
		trigger:  trigger,
		logger:   logger,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	w.addRecursive(root)
	go w.loop()
	return w, nil
}

func (w *watcher) addRecursive(root string) {
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // skip inaccessible dirs
		}
		if d.IsDir() {
			if err := w.fs.Add(path); err != nil {
				w.logger.Warn("cannot watch directory", zap.String("path", path), zap.Error(err))
			}
		}
		return nil
	})
}

func (w *watcher) loop() {
	defer close(w.stopped)
	for {
		select {
		case <-w.stop:
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
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *watcher) handle(ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.addRecursive(ev.Name)
			w.schedule()
			return
		}
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Write) {
		return
	}
	if tags.IsMusicFile(ev.Name) {
		w.schedule()
	}
}

func (w *watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Reset(w.debounce)
		return
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		w.timer = nil
		w.mu.Unlock()
		w.trigger()
	})
}

// Close stops watching and cancels any pending trigger.
func (w *watcher) Close() error {
	close(w.stop)
	err := w.fs.Close()
	<-w.stopped

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	return err
}
