package logring

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultToastDuration is how long a toast stays visible before the queue
// advances.
const DefaultToastDuration = 4 * time.Second

// Toast is one transient notification. At most one is visible at a time.
type Toast struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Severity  Level     `json:"severity"`
	CreatedAt time.Time `json:"createdAt"`
}

// Toaster is a FIFO toast queue. Every toast is also appended to the log
// ring so nothing transient is lost.
type Toaster struct {
	mu       sync.Mutex
	queue    []Toast
	log      *Ring
	duration time.Duration
	timer    *time.Timer
	onChange func()
}

// NewToaster creates a toaster that mirrors toasts into log.
func NewToaster(log *Ring) *Toaster {
	return &Toaster{log: log, duration: DefaultToastDuration}
}

// OnChange registers a callback fired whenever the visible toast changes.
func (t *Toaster) OnChange(fn func()) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Push enqueues a toast.
func (t *Toaster) Push(message string, severity Level) Toast {
	toast := Toast{
		ID:        uuid.NewString(),
		Message:   message,
		Severity:  severity,
		CreatedAt: time.Now(),
	}
	if t.log != nil {
		t.log.Append(severity, "toast", "", message)
	}
	t.mu.Lock()
	t.queue = append(t.queue, toast)
	if len(t.queue) == 1 {
		t.armLocked()
	}
	cb := t.onChange
	t.mu.Unlock()
	if cb != nil {
		cb()
	}
	return toast
}

// Current returns the visible toast, if any.
func (t *Toaster) Current() (Toast, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return Toast{}, false
	}
	return t.queue[0], true
}

// Dismiss drops the visible toast and advances the queue.
func (t *Toaster) Dismiss() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if len(t.queue) > 0 {
		t.queue = t.queue[1:]
	}
	if len(t.queue) > 0 {
		t.armLocked()
	}
	cb := t.onChange
	t.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Pending returns the number of queued toasts including the visible one.
func (t *Toaster) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

func (t *Toaster) armLocked() {
	t.timer = time.AfterFunc(t.duration, t.Dismiss)
}
