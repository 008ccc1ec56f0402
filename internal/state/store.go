package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/dmux-sh/dmux/internal/config"
)

// closeLockTTL is how long a close-lock survives without release before the
// sweeper discards it. A crashed close must not suppress reconciliation
// forever.
const closeLockTTL = 60 * time.Second

// Store is the process-wide state singleton. All pane-list mutations
// read-modify-write the config file under its lock; the watcher re-reads it
// and the store emits exactly one update per settled write, which gives a
// total order over mutations.
type Store struct {
	mu sync.RWMutex

	projectRoot string
	projectName string
	sessionName string
	serverPort  int
	serverURL   string

	settings config.Settings

	panes         []Pane
	controlPaneID string
	welcomePaneID string

	subscribers map[int]func(Snapshot)
	nextSubID   int

	pauseDepth int

	closeLocks map[string]time.Time
}

// New creates a store for a project.
func New(projectRoot, projectName, sessionName string) *Store {
	return &Store{
		projectRoot: projectRoot,
		projectName: projectName,
		sessionName: sessionName,
		subscribers: make(map[int]func(Snapshot)),
		closeLocks:  make(map[string]time.Time),
	}
}

// Subscribe registers a callback invoked with a snapshot on every mutation.
// It returns an unsubscribe function. The callback also fires once
// immediately with the current state.
func (s *Store) Subscribe(cb func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = cb
	snap := s.snapshotLocked()
	s.mu.Unlock()

	cb(snap)
	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// Snapshot returns a cloned view of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Panes:         clonePanes(s.panes),
		ControlPaneID: s.controlPaneID,
		WelcomePaneID: s.welcomePaneID,
		Settings:      s.settings,
		ProjectRoot:   s.projectRoot,
		ProjectName:   s.projectName,
		SessionName:   s.sessionName,
		ServerPort:    s.serverPort,
		ServerURL:     s.serverURL,
		At:            time.Now(),
	}
}

func (s *Store) emitLocked() {
	if s.pauseDepth > 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, cb := range s.subscribers {
		cb(snap)
	}
}

// Pause suppresses subscriber notification until the matching Resume, which
// emits once. Brackets atomic multi-step writes.
func (s *Store) Pause() {
	s.mu.Lock()
	s.pauseDepth++
	s.mu.Unlock()
}

// Resume ends a Pause bracket.
func (s *Store) Resume() {
	s.mu.Lock()
	if s.pauseDepth > 0 {
		s.pauseDepth--
	}
	if s.pauseDepth == 0 {
		s.emitLocked()
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
}

// applyConfig installs a freshly parsed config file. Only the watcher calls
// this; all other writers persist to disk and wait for re-emission.
func (s *Store) applyConfig(cf ConfigFile) {
	s.mu.Lock()
	s.panes = cf.Panes
	s.controlPaneID = cf.ControlPaneID
	s.welcomePaneID = cf.WelcomePaneID
	s.emitLocked()
	s.mu.Unlock()
}

// SetSettings replaces the effective settings.
func (s *Store) SetSettings(settings config.Settings) {
	s.mu.Lock()
	s.settings = settings
	s.emitLocked()
	s.mu.Unlock()
}

// SetServerInfo records the HTTP server's port and public URL.
func (s *Store) SetServerInfo(port int, url string) {
	s.mu.Lock()
	s.serverPort = port
	s.serverURL = url
	s.emitLocked()
	s.mu.Unlock()
}

// Settings returns the effective settings.
func (s *Store) Settings() config.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Panes returns a clone of the pane list.
func (s *Store) Panes() []Pane {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePanes(s.panes)
}

// PaneByID finds a pane by record id.
func (s *Store) PaneByID(id string) (Pane, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.panes {
		if p.ID == id {
			return p, true
		}
	}
	return Pane{}, false
}

// ProjectRoot returns the project root directory.
func (s *Store) ProjectRoot() string {
	return s.projectRoot
}

// SavePanes rewrites the pane list and both marker ids wholesale. The write
// is whole-file under an advisory lock; the watcher picks it up and re-emits.
func (s *Store) SavePanes(panes []Pane, controlPaneID, welcomePaneID string) error {
	_, err := s.mutateConfig(func(cf *ConfigFile) {
		cf.Panes = panes
		cf.ControlPaneID = controlPaneID
		cf.WelcomePaneID = welcomePaneID
	})
	return err
}

// MutatePanes applies fn to the pane list as currently on disk and persists
// the result. It returns the file as written so callers can act on the
// settled list without waiting for the watcher to re-emit it.
func (s *Store) MutatePanes(fn func([]Pane) []Pane) (ConfigFile, error) {
	return s.mutateConfig(func(cf *ConfigFile) {
		cf.Panes = fn(cf.Panes)
	})
}

// UpdatePane persists a single-record update. Returns false when the pane no
// longer exists.
func (s *Store) UpdatePane(id string, fn func(*Pane)) (bool, error) {
	found := false
	_, err := s.MutatePanes(func(panes []Pane) []Pane {
		for i := range panes {
			if panes[i].ID == id {
				fn(&panes[i])
				found = true
				break
			}
		}
		return panes
	})
	return found, err
}

// SetControlPane persists the control pane id.
func (s *Store) SetControlPane(tmuxPaneID string) error {
	_, err := s.mutateConfig(func(cf *ConfigFile) {
		cf.ControlPaneID = tmuxPaneID
	})
	return err
}

// SetWelcomePane persists the welcome pane id.
func (s *Store) SetWelcomePane(tmuxPaneID string) error {
	_, err := s.mutateConfig(func(cf *ConfigFile) {
		cf.WelcomePaneID = tmuxPaneID
	})
	return err
}

// Reload reads the config file and applies it to the projection at once, the
// same way the watcher eventually would. Callers that cannot wait out the
// watcher debounce (startup, tests) use it to settle reads.
func (s *Store) Reload() error {
	data, err := os.ReadFile(config.ConfigFilePath(s.projectRoot))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var cf ConfigFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	s.applyConfig(cf)
	return nil
}

// ControlPaneID returns the tmux id of the control pane.
func (s *Store) ControlPaneID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.controlPaneID
}

// WelcomePaneID returns the tmux id of the welcome pane, if any.
func (s *Store) WelcomePaneID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.welcomePaneID
}

// mutateConfig read-modify-writes the config file under its advisory lock.
// Reading back from disk rather than from the in-memory projection keeps two
// writers inside the watcher's debounce window from erasing each other's
// updates. An unchanged file is left alone so no spurious re-emission fires.
func (s *Store) mutateConfig(fn func(*ConfigFile)) (ConfigFile, error) {
	path := config.ConfigFilePath(s.projectRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ConfigFile{}, err
	}
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return ConfigFile{}, fmt.Errorf("locking config file: %w", err)
	}
	defer lock.Unlock()

	var cf ConfigFile
	prev, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return ConfigFile{}, err
	default:
		if err := json.Unmarshal(prev, &cf); err != nil {
			// A corrupt file must not block writes. Fall back to the last
			// good projection and let this write repair the file.
			s.mu.RLock()
			cf = ConfigFile{
				Panes:         clonePanes(s.panes),
				ControlPaneID: s.controlPaneID,
				WelcomePaneID: s.welcomePaneID,
			}
			s.mu.RUnlock()
		}
	}

	before := cf
	beforePanes := clonePanes(cf.Panes)
	fn(&cf)
	if cf.ControlPaneID == before.ControlPaneID &&
		cf.WelcomePaneID == before.WelcomePaneID &&
		panesEqual(cf.Panes, beforePanes) {
		return cf, nil
	}

	cf.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return ConfigFile{}, err
	}
	data = append(data, '\n')

	// Write-then-rename so the watcher never sees a torn file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ConfigFile{}, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return ConfigFile{}, err
	}
	return cf, nil
}

func panesEqual(a, b []Pane) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ab, err1 := json.Marshal(a[i])
		bb, err2 := json.Marshal(b[i])
		if err1 != nil || err2 != nil || !bytes.Equal(ab, bb) {
			return false
		}
	}
	return true
}

// LockClose marks a pane as closing, which suppresses reconciliation for it.
func (s *Store) LockClose(paneID string) {
	s.mu.Lock()
	s.closeLocks[paneID] = time.Now()
	s.mu.Unlock()
}

// UnlockClose releases a close-lock.
func (s *Store) UnlockClose(paneID string) {
	s.mu.Lock()
	delete(s.closeLocks, paneID)
	s.mu.Unlock()
}

// IsClosing reports whether a pane holds an unexpired close-lock.
func (s *Store) IsClosing(paneID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.closeLocks[paneID]
	return ok && time.Since(at) < closeLockTTL
}

// SweepCloseLocks discards locks older than the TTL. Called periodically so
// a crashed close path cannot wedge reconciliation.
func (s *Store) SweepCloseLocks() {
	s.mu.Lock()
	for id, at := range s.closeLocks {
		if time.Since(at) >= closeLockTTL {
			delete(s.closeLocks, id)
		}
	}
	s.mu.Unlock()
}
