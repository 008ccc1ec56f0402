// Package events provides the unified panes-changed stream. Two backends
// feed it: tmux hooks appending to a trigger file (preferred), or a polling
// worker diffing list-panes snapshots. The bus is the only component that
// decides panes appeared or vanished at the tmux layer; matching those panes
// to stored records is the lifecycle controller's job.
package events

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dmux-sh/dmux/internal/logring"
	"github.com/dmux-sh/dmux/internal/tmux"
)

// Mode identifies the active backend.
type Mode string

const (
	ModeOff   Mode = "off"
	ModeHooks Mode = "hooks"
	ModePoll  Mode = "poll"
)

// Poll timing bounds.
const (
	DefaultPollInterval = 5 * time.Second
	MinPollInterval     = time.Second
	hookDebounce        = 100 * time.Millisecond
)

// Event is one panes-changed notification.
type Event struct {
	AddedIDs   []string
	RemovedIDs []string
	Source     Mode
	Timestamp  time.Time
}

// Source is the slice of the tmux adapter the bus needs.
type Source interface {
	ListPanes(session string) ([]tmux.PaneInfo, error)
	InstallHooks(session, runtimeDir string) error
	UninstallHooks(session string) error
}

// Bus watches for pane membership changes in one session.
type Bus struct {
	source     Source
	session    string
	runtimeDir string
	log        *logring.Ring
	interval   time.Duration

	mu          sync.Mutex
	mode        Mode
	known       map[string]bool
	subscribers map[int]func(Event)
	nextSubID   int

	fsw      *fsnotify.Watcher
	debounce *time.Timer

	done chan struct{}
}

// New creates a stopped bus.
func New(source Source, session, runtimeDir string, log *logring.Ring) *Bus {
	return &Bus{
		source:      source,
		session:     session,
		runtimeDir:  runtimeDir,
		log:         log,
		interval:    DefaultPollInterval,
		mode:        ModeOff,
		known:       make(map[string]bool),
		subscribers: make(map[int]func(Event)),
		done:        make(chan struct{}),
	}
}

// SetPollInterval adjusts the poll backend's interval, clamped to the 1 s
// minimum.
func (b *Bus) SetPollInterval(d time.Duration) {
	if d < MinPollInterval {
		d = MinPollInterval
	}
	b.mu.Lock()
	b.interval = d
	b.mu.Unlock()
}

// Subscribe registers a callback for panes-changed events.
func (b *Bus) Subscribe(cb func(Event)) func() {
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subscribers[id] = cb
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// Start selects a backend and begins emitting. With preferHooks it attempts
// hook installation first and falls back to polling.
func (b *Bus) Start(preferHooks bool) (Mode, error) {
	// Seed the known set so the first event after start reflects real
	// changes, not the entire session.
	b.snapshot()

	if preferHooks {
		if err := b.startHooks(); err == nil {
			return ModeHooks, nil
		} else if b.log != nil {
			b.log.Warnf("events", "hook mode unavailable, falling back to polling: %v", err)
		}
	}
	b.startPoll()
	return ModePoll, nil
}

// Mode returns the active backend.
func (b *Bus) Mode() Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// SwitchMode changes the backend at runtime.
func (b *Bus) SwitchMode(mode Mode) error {
	if b.Mode() == mode {
		return nil
	}
	b.stopBackend()
	switch mode {
	case ModeHooks:
		return b.startHooks()
	case ModePoll:
		b.startPoll()
		return nil
	case ModeOff:
		return nil
	}
	return fmt.Errorf("unknown event bus mode %q", mode)
}

// ForceCheck runs a membership check immediately, bypassing the interval.
func (b *Bus) ForceCheck() {
	mode := b.Mode()
	if mode == ModeOff {
		return
	}
	b.check(mode)
}

// Stop shuts the bus down and removes installed hooks.
func (b *Bus) Stop() {
	b.stopBackend()
	select {
	case <-b.done:
	default:
		close(b.done)
	}
}

func (b *Bus) stopBackend() {
	b.mu.Lock()
	mode := b.mode
	b.mode = ModeOff
	fsw := b.fsw
	b.fsw = nil
	if b.debounce != nil {
		b.debounce.Stop()
		b.debounce = nil
	}
	b.mu.Unlock()

	if fsw != nil {
		fsw.Close()
	}
	if mode == ModeHooks {
		if err := b.source.UninstallHooks(b.session); err != nil && b.log != nil {
			b.log.Warnf("events", "uninstalling tmux hooks: %v", err)
		}
	}
}

func (b *Bus) startHooks() error {
	if err := os.MkdirAll(b.runtimeDir, 0o755); err != nil {
		return err
	}
	trigger := tmux.TriggerFile(b.runtimeDir)
	// Truncate so stale events from a previous run don't fire.
	if err := os.WriteFile(trigger, nil, 0o644); err != nil {
		return err
	}
	if err := b.source.InstallHooks(b.session, b.runtimeDir); err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(b.runtimeDir); err != nil {
		fsw.Close()
		return err
	}

	b.mu.Lock()
	b.mode = ModeHooks
	b.fsw = fsw
	b.mu.Unlock()

	go b.hookLoop(fsw, trigger)
	return nil
}

func (b *Bus) hookLoop(fsw *fsnotify.Watcher, trigger string) {
	for {
		select {
		case <-b.done:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Name != trigger || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			b.mu.Lock()
			if b.debounce != nil {
				b.debounce.Stop()
			}
			b.debounce = time.AfterFunc(hookDebounce, func() {
				b.check(ModeHooks)
			})
			b.mu.Unlock()
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if b.log != nil {
				b.log.Warnf("events", "hook watcher error: %v", err)
			}
		}
	}
}

func (b *Bus) startPoll() {
	b.mu.Lock()
	b.mode = ModePoll
	interval := b.interval
	b.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-b.done:
				return
			case <-ticker.C:
				if b.Mode() != ModePoll {
					return
				}
				b.check(ModePoll)
			}
		}
	}()
}

// snapshot records current membership without emitting.
func (b *Bus) snapshot() {
	panes, err := b.source.ListPanes(b.session)
	if err != nil {
		return
	}
	known := make(map[string]bool, len(panes))
	for _, p := range panes {
		known[p.PaneID] = true
	}
	b.mu.Lock()
	b.known = known
	b.mu.Unlock()
}

// check diffs live membership against the last snapshot and emits when it
// changed.
func (b *Bus) check(source Mode) {
	panes, err := b.source.ListPanes(b.session)
	if err != nil {
		if b.log != nil {
			b.log.Debugf("events", "list-panes failed: %v", err)
		}
		return
	}
	current := make(map[string]bool, len(panes))
	for _, p := range panes {
		current[p.PaneID] = true
	}

	b.mu.Lock()
	var added, removed []string
	for id := range current {
		if !b.known[id] {
			added = append(added, id)
		}
	}
	for id := range b.known {
		if !current[id] {
			removed = append(removed, id)
		}
	}
	b.known = current
	var subs []func(Event)
	if len(added) > 0 || len(removed) > 0 {
		for _, cb := range b.subscribers {
			subs = append(subs, cb)
		}
	}
	b.mu.Unlock()

	if subs == nil {
		return
	}
	sort.Strings(added)
	sort.Strings(removed)
	event := Event{AddedIDs: added, RemovedIDs: removed, Source: source, Timestamp: time.Now()}
	for _, cb := range subs {
		cb(event)
	}
}
