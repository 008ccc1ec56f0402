package logring

import (
	"fmt"
	"testing"
	"time"
)

func TestRingEviction(t *testing.T) {
	r := New(3)
	for i := 0; i < 5; i++ {
		r.Append(LevelInfo, "test", "", fmt.Sprintf("msg-%d", i))
	}
	if r.Len() != 3 {
		t.Fatalf("len = %d, want 3", r.Len())
	}
	entries := r.Query(Filter{})
	if entries[0].Message != "msg-2" || entries[2].Message != "msg-4" {
		t.Errorf("unexpected window: %q .. %q", entries[0].Message, entries[2].Message)
	}
}

func TestUnreadCounts(t *testing.T) {
	r := New(0)
	r.Warnf("a", "warn one")
	r.Errorf("b", "error one")
	r.Errorf("b", "error two")
	r.Infof("c", "info")

	warnings, errors := r.UnreadCounts()
	if warnings != 1 || errors != 2 {
		t.Fatalf("unread = %d/%d, want 1/2", warnings, errors)
	}

	if n := r.MarkLevelAsRead(LevelError); n != 2 {
		t.Errorf("MarkLevelAsRead(error) = %d, want 2", n)
	}
	warnings, errors = r.UnreadCounts()
	if warnings != 1 || errors != 0 {
		t.Errorf("after mark: unread = %d/%d", warnings, errors)
	}
}

func TestMarkAsRead(t *testing.T) {
	r := New(0)
	e := r.Append(LevelError, "x", "", "boom")
	if !r.MarkAsRead(e.ID) {
		t.Fatal("MarkAsRead failed for existing id")
	}
	if r.MarkAsRead("missing") {
		t.Error("MarkAsRead succeeded for missing id")
	}
	if _, errors := r.UnreadCounts(); errors != 0 {
		t.Error("entry still unread")
	}
}

func TestQueryFilters(t *testing.T) {
	r := New(0)
	r.PaneErrorf("p1", "analyzer", "pane one failed")
	r.PaneErrorf("p2", "analyzer", "pane two failed")
	r.Infof("server", "listening")

	if got := r.Query(Filter{PaneID: "p1"}); len(got) != 1 || got[0].PaneID != "p1" {
		t.Errorf("pane filter = %v", got)
	}
	if got := r.Query(Filter{Level: LevelError}); len(got) != 2 {
		t.Errorf("level filter returned %d entries", len(got))
	}
	if got := r.Query(Filter{Source: "server"}); len(got) != 1 {
		t.Errorf("source filter returned %d entries", len(got))
	}

	r.MarkLevelAsRead("")
	if got := r.Query(Filter{UnreadOnly: true}); len(got) != 0 {
		t.Errorf("unread filter returned %d entries after mark-all", len(got))
	}
}

func TestClearForPane(t *testing.T) {
	r := New(0)
	r.PaneErrorf("p1", "analyzer", "fail")
	r.Infof("server", "keep me")
	r.ClearForPane("p1")
	if r.Len() != 1 {
		t.Fatalf("len = %d after clear, want 1", r.Len())
	}
}

func TestToasterQueue(t *testing.T) {
	r := New(0)
	tt := NewToaster(r)
	tt.duration = time.Hour // advance manually

	tt.Push("first", LevelInfo)
	tt.Push("second", LevelError)

	cur, ok := tt.Current()
	if !ok || cur.Message != "first" {
		t.Fatalf("current = %+v, %v", cur, ok)
	}
	if tt.Pending() != 2 {
		t.Errorf("pending = %d", tt.Pending())
	}

	tt.Dismiss()
	cur, ok = tt.Current()
	if !ok || cur.Message != "second" {
		t.Fatalf("after dismiss current = %+v, %v", cur, ok)
	}
	tt.Dismiss()
	if _, ok := tt.Current(); ok {
		t.Error("queue should be empty")
	}

	// Every toast is mirrored into the ring.
	if got := r.Query(Filter{Source: "toast"}); len(got) != 2 {
		t.Errorf("log mirror has %d entries", len(got))
	}
}

func TestToasterAutoExpiry(t *testing.T) {
	tt := NewToaster(nil)
	tt.duration = 10 * time.Millisecond
	tt.Push("gone soon", LevelInfo)

	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := tt.Current(); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("toast did not expire")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
