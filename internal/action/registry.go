package action

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL bounds how long an unresolved dialog callback stays alive.
const DefaultTTL = 10 * time.Minute

// Registry errors.
var (
	ErrCallbackNotFound = errors.New("callback not found or expired")
	ErrWrongKind        = errors.New("callback kind mismatch")
)

type regEntry struct {
	result Result
	at     time.Time
}

// Registry parks interactive Results so the HTTP facade can resolve their
// callbacks on a later request. Entries expire after the TTL.
type Registry struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]regEntry
	now     func() time.Time
}

// NewRegistry builds a registry with the default TTL.
func NewRegistry() *Registry {
	return &Registry{
		ttl:     DefaultTTL,
		entries: make(map[string]regEntry),
		now:     time.Now,
	}
}

// Materialise prepares a result for transport. Interactive results get a
// CallbackID and are parked; everything else passes through unchanged.
func (r *Registry) Materialise(res Result) Result {
	if !res.Interactive() {
		return res
	}
	res.CallbackID = uuid.NewString()
	r.mu.Lock()
	r.entries[res.CallbackID] = regEntry{result: res, at: r.now()}
	r.mu.Unlock()
	return res
}

func (r *Registry) take(id string, kind Kind) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return None, ErrCallbackNotFound
	}
	if r.now().Sub(entry.at) > r.ttl {
		delete(r.entries, id)
		return None, ErrCallbackNotFound
	}
	if entry.result.Kind != kind {
		return None, ErrWrongKind
	}
	delete(r.entries, id)
	return entry.result, nil
}

// ResolveConfirm fires a parked confirm dialog. The follow-up result is
// materialised in turn, so wizard chains keep working over HTTP.
func (r *Registry) ResolveConfirm(id string, confirmed bool) (Result, error) {
	parked, err := r.take(id, KindConfirm)
	if err != nil {
		return None, err
	}
	if confirmed {
		if parked.OnConfirm == nil {
			return None, nil
		}
		return r.Materialise(parked.OnConfirm()), nil
	}
	if parked.OnCancel == nil {
		return None, nil
	}
	return r.Materialise(parked.OnCancel()), nil
}

// ResolveChoice fires a parked choice dialog with the selected option id.
func (r *Registry) ResolveChoice(id, optionID string) (Result, error) {
	parked, err := r.take(id, KindChoice)
	if err != nil {
		return None, err
	}
	if parked.OnSelect == nil {
		return None, nil
	}
	return r.Materialise(parked.OnSelect(optionID)), nil
}

// ResolveInput fires a parked input dialog with the submitted value.
func (r *Registry) ResolveInput(id, value string) (Result, error) {
	parked, err := r.take(id, KindInput)
	if err != nil {
		return None, err
	}
	if parked.OnSubmit == nil {
		return None, nil
	}
	return r.Materialise(parked.OnSubmit(value)), nil
}

// GC drops expired entries and returns how many were removed.
func (r *Registry) GC() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	cutoff := r.now().Add(-r.ttl)
	for id, entry := range r.entries {
		if entry.at.Before(cutoff) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// StartGC sweeps expired callbacks until the stop channel closes.
func (r *Registry) StartGC(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.GC()
			}
		}
	}()
}

// Len reports the number of parked callbacks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
