package config

import (
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/prism/engine/core"
)

// Watcher keeps an up to date snapshot of the configuration file. Readers call
// Current at frame boundaries; reloads never mutate a published snapshot.
type Watcher struct {
	path     string
	current  atomic.Pointer[Config]
	fsnotify *fsnotify.Watcher
	onReload func(*Config)

	done     chan struct{}
	wg       sync.WaitGroup
	isClosed atomic.Bool
}

// NewWatcher starts watching path. onReload, when not nil, is called from the
// watcher goroutine after every successful reload.
func NewWatcher(path string, initial *Config, onReload func(*Config)) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files by rename, which drops a
	// watch held on the file itself.
	if err := fsWatch.Add(filepath.Dir(path)); err != nil {
		fsWatch.Close()
		return nil, err
	}

	w := &Watcher{
		path:     filepath.Clean(path),
		fsnotify: fsWatch,
		onReload: onReload,
		done:     make(chan struct{}),
	}
	w.current.Store(initial.Clone())

	w.wg.Add(1)
	go w.start()
	return w, nil
}

func (w *Watcher) Current() *Config {
	return w.current.Load()
}

func (w *Watcher) Close() error {
	if !w.isClosed.CompareAndSwap(false, true) {
		return errors.New("config watcher already closed")
	}
	close(w.done)
	w.wg.Wait()
	return w.fsnotify.Close()
}

func (w *Watcher) start() {
	defer w.wg.Done()
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != w.path {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.reload()
			}

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("config watcher: %s", err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		// a half-written file fails to parse; the next write event retries
		core.LogWarn("config reload skipped: %s", err)
		return
	}

	merged, ignored := applyRuntime(w.current.Load(), next)
	for _, section := range ignored {
		core.LogWarn("config section [%s] changed; restart required to apply it", section)
	}
	w.current.Store(merged)
	core.LogInfo("configuration reloaded from %s", w.path)

	if w.onReload != nil {
		w.onReload(merged)
	}
}
