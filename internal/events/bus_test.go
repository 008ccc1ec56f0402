package events

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dmux-sh/dmux/internal/tmux"
)

type fakeSource struct {
	mu       sync.Mutex
	panes    []tmux.PaneInfo
	listErr  error
	hooksErr error
}

func (f *fakeSource) setPanes(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panes = nil
	for _, id := range ids {
		f.panes = append(f.panes, tmux.PaneInfo{PaneID: id})
	}
}

func (f *fakeSource) ListPanes(string) ([]tmux.PaneInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tmux.PaneInfo(nil), f.panes...), f.listErr
}

func (f *fakeSource) InstallHooks(string, string) error { return f.hooksErr }
func (f *fakeSource) UninstallHooks(string) error       { return nil }

func collect(b *Bus) (func() []Event, func()) {
	var mu sync.Mutex
	var events []Event
	unsub := b.Subscribe(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	get := func() []Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]Event(nil), events...)
	}
	return get, unsub
}

func TestCheckEmitsOnlyOnChange(t *testing.T) {
	src := &fakeSource{}
	src.setPanes("%1", "%2")
	b := New(src, "sess", t.TempDir(), nil)
	b.mode = ModePoll
	b.snapshot()

	events, unsub := collect(b)
	defer unsub()

	// Same membership: no event.
	b.ForceCheck()
	if got := events(); len(got) != 0 {
		t.Fatalf("unchanged membership emitted %d events", len(got))
	}

	// One added, one removed.
	src.setPanes("%2", "%3")
	b.ForceCheck()
	got := events()
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	e := got[0]
	if len(e.AddedIDs) != 1 || e.AddedIDs[0] != "%3" {
		t.Errorf("added = %v", e.AddedIDs)
	}
	if len(e.RemovedIDs) != 1 || e.RemovedIDs[0] != "%1" {
		t.Errorf("removed = %v", e.RemovedIDs)
	}
	if e.Source != ModePoll {
		t.Errorf("source = %v", e.Source)
	}

	// Re-check with no further change: still one event.
	b.ForceCheck()
	if got := events(); len(got) != 1 {
		t.Errorf("idempotence violated: %d events", len(got))
	}
}

func TestCheckToleratesListErrors(t *testing.T) {
	src := &fakeSource{}
	src.setPanes("%1")
	b := New(src, "sess", t.TempDir(), nil)
	b.mode = ModePoll
	b.snapshot()
	events, unsub := collect(b)
	defer unsub()

	src.mu.Lock()
	src.listErr = errors.New("tmux gone")
	src.mu.Unlock()
	b.ForceCheck()
	if got := events(); len(got) != 0 {
		t.Error("list error should not emit")
	}

	// Recovery: membership unchanged, still no event.
	src.mu.Lock()
	src.listErr = nil
	src.mu.Unlock()
	b.ForceCheck()
	if got := events(); len(got) != 0 {
		t.Errorf("recovery emitted %d events", len(got))
	}
}

func TestStartFallsBackToPoll(t *testing.T) {
	src := &fakeSource{hooksErr: errors.New("old tmux")}
	b := New(src, "sess", t.TempDir(), nil)
	defer b.Stop()

	mode, err := b.Start(true)
	if err != nil {
		t.Fatal(err)
	}
	if mode != ModePoll {
		t.Errorf("mode = %v, want poll fallback", mode)
	}
}

func TestStartHookMode(t *testing.T) {
	src := &fakeSource{}
	b := New(src, "sess", t.TempDir(), nil)
	defer b.Stop()

	mode, err := b.Start(true)
	if err != nil {
		t.Fatal(err)
	}
	if mode != ModeHooks {
		t.Fatalf("mode = %v, want hooks", mode)
	}
	if b.Mode() != ModeHooks {
		t.Errorf("Mode() = %v", b.Mode())
	}
}

func TestHookTriggerFires(t *testing.T) {
	src := &fakeSource{}
	src.setPanes("%1")
	dir := t.TempDir()
	b := New(src, "sess", dir, nil)
	defer b.Stop()

	if _, err := b.Start(true); err != nil {
		t.Fatal(err)
	}
	events, unsub := collect(b)
	defer unsub()

	src.setPanes("%1", "%2")
	// Simulate the tmux hook appending to the trigger file.
	trigger := tmux.TriggerFile(dir)
	if err := appendLine(trigger, "pane-exited"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(events()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	got := events()
	if len(got) == 0 {
		t.Fatal("hook trigger never produced an event")
	}
	if got[0].Source != ModeHooks {
		t.Errorf("source = %v", got[0].Source)
	}
}

func TestSwitchMode(t *testing.T) {
	src := &fakeSource{}
	b := New(src, "sess", t.TempDir(), nil)
	defer b.Stop()

	if _, err := b.Start(false); err != nil {
		t.Fatal(err)
	}
	if b.Mode() != ModePoll {
		t.Fatalf("mode = %v", b.Mode())
	}
	if err := b.SwitchMode(ModeHooks); err != nil {
		t.Fatal(err)
	}
	if b.Mode() != ModeHooks {
		t.Errorf("mode after switch = %v", b.Mode())
	}
}

func TestSetPollIntervalClamps(t *testing.T) {
	b := New(&fakeSource{}, "sess", t.TempDir(), nil)
	b.SetPollInterval(10 * time.Millisecond)
	b.mu.Lock()
	got := b.interval
	b.mu.Unlock()
	if got != MinPollInterval {
		t.Errorf("interval = %v, want clamp to %v", got, MinPollInterval)
	}
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

func TestForceCheckLabelsActiveMode(t *testing.T) {
	src := &fakeSource{}
	src.setPanes("%1")
	b := New(src, "sess", t.TempDir(), nil)
	b.mode = ModeHooks
	b.snapshot()
	events, unsub := collect(b)
	defer unsub()

	src.setPanes("%1", "%2")
	b.ForceCheck()
	got := events()
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].Source != ModeHooks {
		t.Errorf("source = %v, want hooks", got[0].Source)
	}

	// A stopped bus ignores force checks.
	b.mode = ModeOff
	src.setPanes("%2")
	b.ForceCheck()
	if len(events()) != 1 {
		t.Error("stopped bus emitted on force check")
	}
}
