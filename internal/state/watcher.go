package state

import (
	"crypto/sha256"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dmux-sh/dmux/internal/config"
	"github.com/dmux-sh/dmux/internal/logring"
)

// watchDebounce is how long the watcher waits after the last write event
// before re-reading, so editors and our own rename dance settle first.
const watchDebounce = 100 * time.Millisecond

// Watcher keeps the store in sync with dmux.config.json.
type Watcher struct {
	store *Store
	log   *logring.Ring
	path  string

	fsw  *fsnotify.Watcher
	done chan struct{}

	mu       sync.Mutex
	lastHash [sha256.Size]byte
	started  bool
}

// NewWatcher creates a watcher for the store's project config file.
func NewWatcher(store *Store, log *logring.Ring) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	path := config.ConfigFilePath(store.ProjectRoot())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		fsw.Close()
		return nil, err
	}
	// Watch the directory, not the file: rename-based writes replace the
	// inode and a file watch would silently die.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		store: store,
		log:   log,
		path:  path,
		fsw:   fsw,
		done:  make(chan struct{}),
	}, nil
}

// Start loads the current file once and begins watching.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	w.reload()
	go w.loop()
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	return w.fsw.Close()
}

// ForceReload re-reads the config file immediately, bypassing debounce.
func (w *Watcher) ForceReload() {
	w.reload()
}

func (w *Watcher) loop() {
	var debounce *time.Timer
	for {
		select {
		case <-w.done:
			if debounce != nil {
				debounce.Stop()
			}
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, w.reload)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warnf("state", "config watcher error: %v", err)
		}
	}
}

// reload reads, hash-checks and parses the config file, then applies it.
// Unchanged content is dropped without emission; a parse error keeps the
// last good snapshot.
func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		w.log.Errorf("state", "reading config file: %v", err)
		return
	}

	hash := sha256.Sum256(data)
	w.mu.Lock()
	if hash == w.lastHash {
		w.mu.Unlock()
		return
	}
	w.lastHash = hash
	w.mu.Unlock()

	var cf ConfigFile
	if err := json.Unmarshal(data, &cf); err != nil {
		w.log.Errorf("state", "parsing %s: %v (keeping previous state)", w.path, err)
		return
	}
	w.store.applyConfig(cf)
}
