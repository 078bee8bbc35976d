package credentials

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher monitors the credential search paths and invalidates the manager's
// in-memory cache when an external process rewrites a file. Atomic writes
// land as rename events, so the parent directories are watched rather than
// the files themselves.
type Watcher struct {
	manager *Manager
	watcher *fsnotify.Watcher
	files   map[string]bool
	stopCh  chan struct{}

	mu      sync.Mutex
	running bool
}

// NewWatcher creates a watcher over the manager's store paths.
func NewWatcher(manager *Manager) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create credential watcher: %w", err)
	}
	files := make(map[string]bool)
	for _, path := range manager.store.Paths() {
		files[path] = true
	}
	return &Watcher{
		manager: manager,
		watcher: fw,
		files:   files,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins watching. Missing directories are skipped; at least one must
// be watchable.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("credential watcher already running")
	}

	watched := 0
	seen := make(map[string]bool)
	for path := range w.files {
		dir := filepath.Dir(path)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := w.watcher.Add(dir); err != nil {
			logrus.WithField("dir", dir).Debugf("Not watching credential directory: %v", err)
			continue
		}
		watched++
	}
	if watched == 0 {
		return fmt.Errorf("no credential directories to watch")
	}

	w.running = true
	go w.watchLoop()
	return nil
}

// Stop halts the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false
	close(w.stopCh)
	return w.watcher.Close()
}

func (w *Watcher) watchLoop() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.files[event.Name] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			// Debounce the write+rename pair an atomic save produces.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				logrus.WithField("path", event.Name).Debug("Credential file changed, invalidating cache")
				w.manager.Invalidate()
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logrus.Warnf("Credential watcher error: %v", err)

		case <-w.stopCh:
			return
		}
	}
}
