// Package logring provides the bounded in-process log ring and the toast
// queue. Background components log here instead of writing to stderr, which
// the TUI owns.
package logring

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level is a log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Entry is one log record.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	PaneID    string    `json:"paneId,omitempty"`
	Stack     string    `json:"stack,omitempty"`
	Read      bool      `json:"read"`
}

// Filter selects entries for Query.
type Filter struct {
	Level      Level
	Source     string
	PaneID     string
	UnreadOnly bool
}

// DefaultCapacity is the default ring size.
const DefaultCapacity = 2000

// Ring is a bounded log buffer with unread tracking.
type Ring struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	onAppend func(Entry)
}

// New creates a ring with the given capacity (DefaultCapacity when <= 0).
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{capacity: capacity}
}

// OnAppend registers a single callback invoked after every append. Used by
// the TUI to refresh badges.
func (r *Ring) OnAppend(fn func(Entry)) {
	r.mu.Lock()
	r.onAppend = fn
	r.mu.Unlock()
}

// Append adds an entry, evicting the oldest when full.
func (r *Ring) Append(level Level, source, paneID, message string) Entry {
	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Level:     level,
		Source:    source,
		PaneID:    paneID,
		Message:   message,
	}
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	if len(r.entries) > r.capacity {
		r.entries = r.entries[len(r.entries)-r.capacity:]
	}
	cb := r.onAppend
	r.mu.Unlock()
	if cb != nil {
		cb(entry)
	}
	return entry
}

// Debugf appends a debug entry.
func (r *Ring) Debugf(source, format string, args ...any) {
	r.Append(LevelDebug, source, "", fmt.Sprintf(format, args...))
}

// Infof appends an info entry.
func (r *Ring) Infof(source, format string, args ...any) {
	r.Append(LevelInfo, source, "", fmt.Sprintf(format, args...))
}

// Warnf appends a warning entry.
func (r *Ring) Warnf(source, format string, args ...any) {
	r.Append(LevelWarn, source, "", fmt.Sprintf(format, args...))
}

// Errorf appends an error entry.
func (r *Ring) Errorf(source, format string, args ...any) {
	r.Append(LevelError, source, "", fmt.Sprintf(format, args...))
}

// PaneErrorf appends an error entry attributed to a pane.
func (r *Ring) PaneErrorf(paneID, source, format string, args ...any) {
	r.Append(LevelError, source, paneID, fmt.Sprintf(format, args...))
}

// Query returns entries matching the filter, oldest first.
func (r *Ring) Query(f Filter) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if f.Level != "" && e.Level != f.Level {
			continue
		}
		if f.Source != "" && e.Source != f.Source {
			continue
		}
		if f.PaneID != "" && e.PaneID != f.PaneID {
			continue
		}
		if f.UnreadOnly && e.Read {
			continue
		}
		out = append(out, e)
	}
	return out
}

// UnreadCounts returns the number of unread warnings and errors.
func (r *Ring) UnreadCounts() (warnings, errors int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.Read {
			continue
		}
		switch e.Level {
		case LevelWarn:
			warnings++
		case LevelError:
			errors++
		}
	}
	return warnings, errors
}

// MarkAsRead marks a single entry read.
func (r *Ring) MarkAsRead(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].ID == id {
			r.entries[i].Read = true
			return true
		}
	}
	return false
}

// MarkLevelAsRead marks every entry of a level read. An empty level marks
// everything.
func (r *Ring) MarkLevelAsRead(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for i := range r.entries {
		if r.entries[i].Read {
			continue
		}
		if level != "" && r.entries[i].Level != level {
			continue
		}
		r.entries[i].Read = true
		n++
	}
	return n
}

// ClearForPane drops entries attributed to a pane. Called when the pane is
// closed.
func (r *Ring) ClearForPane(paneID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.PaneID != paneID {
			kept = append(kept, e)
		}
	}
	r.entries = kept
}

// Len returns the number of buffered entries.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
