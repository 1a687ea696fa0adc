package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	. "github.com/cronkit50/apate/internal/logging"
)

// Watcher reloads a config file whenever it changes on disk and hands the
// freshly parsed Config to a callback. Grounded on the teacher's
// internal/session.SessionWatcher, which does the same fsnotify-driven
// reload-on-write for its own file.
type Watcher struct {
	path     string // original, possibly relative, path passed by the caller
	absPath  string
	fsw      *fsnotify.Watcher
	onChange func(*Config)

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewWatcher starts watching path for writes. onChange is called with the
// freshly reloaded Config after each write event; reload errors are logged
// and otherwise ignored. The cached entry for the file is dropped before each
// reload, so after a failed reload the next Load reads the file again.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &fileWatchError{path: path, err: err}
	}

	initial, err := Load(path)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	if err := fsw.Add(initial.Path()); err != nil {
		fsw.Close()
		return nil, &fileWatchError{path: path, err: err}
	}

	w := &Watcher{
		path:     path,
		absPath:  initial.Path(),
		fsw:      fsw,
		onChange: onChange,
		stopCh:   make(chan struct{}),
	}
	w.mu.Lock()
	w.running = true
	w.mu.Unlock()
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cache().Remove(w.absPath)
			cfg, err := Load(w.path)
			if err != nil {
				L_warn("config: reload after change failed", "path", w.path, "error", err)
				continue
			}
			L_info("config: reloaded after change", "path", w.path)
			w.onChange(cfg)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			L_warn("config: watcher error", "path", w.path, "error", err)

		case <-w.stopCh:
			return
		}
	}
}

// Stop halts the watcher. Safe to call more than once; calls after the first
// are no-ops.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
	w.fsw.Close()
}

type fileWatchError struct {
	path string
	err  error
}

func (e *fileWatchError) Error() string {
	return "config: watching " + e.path + ": " + e.err.Error()
}

func (e *fileWatchError) Unwrap() error { return e.err }
