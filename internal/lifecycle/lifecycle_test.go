package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmux-sh/dmux/internal/action"
	"github.com/dmux-sh/dmux/internal/config"
	"github.com/dmux-sh/dmux/internal/events"
	"github.com/dmux-sh/dmux/internal/hooks"
	"github.com/dmux-sh/dmux/internal/logring"
	"github.com/dmux-sh/dmux/internal/state"
	"github.com/dmux-sh/dmux/internal/tmux"
)

type fakeTmux struct {
	mu        sync.Mutex
	killed    []string
	split     []tmux.SplitOptions
	titles    map[string]string
	commands  []string
	nextPane  int
	capture   string
	selected  []string
	sentKeys  [][]string
}

func newFakeTmux() *fakeTmux {
	return &fakeTmux{titles: make(map[string]string), nextPane: 50}
}

func (f *fakeTmux) SplitPane(opts tmux.SplitOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.split = append(f.split, opts)
	f.nextPane++
	return "%" + itoa(f.nextPane), nil
}

func (f *fakeTmux) KillPane(paneID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, paneID)
	return nil
}

func (f *fakeTmux) SetPaneTitle(paneID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles[paneID] = title
	return nil
}

func (f *fakeTmux) SelectPane(paneID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = append(f.selected, paneID)
	return nil
}

func (f *fakeTmux) SendShellCommand(paneID, command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	return nil
}

func (f *fakeTmux) SendKeys(paneID string, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentKeys = append(f.sentKeys, append([]string{paneID}, keys...))
	return nil
}

func (f *fakeTmux) CapturePane(paneID string, lastN int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capture, nil
}

func (f *fakeTmux) ListPanes(session string) ([]tmux.PaneInfo, error) { return nil, nil }

func itoa(n int) string {
	digits := "0123456789"
	if n == 0 {
		return "0"
	}
	var out []byte
	for n > 0 {
		out = append([]byte{digits[n%10]}, out...)
		n /= 10
	}
	return string(out)
}

type fakeGit struct {
	mu              sync.Mutex
	worktreesAdded  []string
	worktreesGone   []string
	branchesDeleted []string
	branch          string
}

func (f *fakeGit) WorktreeAdd(ctx context.Context, path, branch, base string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.worktreesAdded = append(f.worktreesAdded, path)
	return nil
}

func (f *fakeGit) WorktreeRemove(path string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.worktreesGone = append(f.worktreesGone, path)
	return nil
}

func (f *fakeGit) BranchDelete(name string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branchesDeleted = append(f.branchesDeleted, name)
	return nil
}

func (f *fakeGit) MainBranch() (string, error) { return "main", nil }

func (f *fakeGit) CurrentBranch(path string) (string, error) {
	if f.branch != "" {
		return f.branch, nil
	}
	return "dmux/test", nil
}

type fakeTracker struct {
	mu        sync.Mutex
	tracked   []string
	untracked []string
}

func (f *fakeTracker) Track(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append(f.tracked, id)
}

func (f *fakeTracker) Untrack(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.untracked = append(f.untracked, id)
}

func newTestController(t *testing.T, panes ...state.Pane) (*Controller, *fakeTmux, *fakeGit, *state.Store, *fakeTracker) {
	t.Helper()
	root := t.TempDir()
	store := state.New(root, "proj", "dmux-proj-abc12345")
	if err := store.SavePanes(panes, "%0", ""); err != nil {
		t.Fatal(err)
	}
	// No config watcher runs in tests; settle the projection by hand.
	if err := store.Reload(); err != nil {
		t.Fatal(err)
	}
	ft := newFakeTmux()
	fg := &fakeGit{}
	tracker := &fakeTracker{}
	runner := hooks.NewRunner(root, nil)
	c := New(ft, fg, store, nil, runner, tracker, nil, "dmux-proj-abc12345", config.DefaultToolConfig())
	return c, ft, fg, store, tracker
}

func TestSanitizeSlug(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Fix Auth Bug", "fix-auth-bug"},
		{"`fix-auth`", "fix-auth"},
		{"  add-tests\nextra line", "add-tests"},
		{"refactor_the/parser", "refactor-the-parser"},
		{"--weird---dashes--", "weird-dashes"},
		{"Émigré només", "migr-noms"},
		{"a-very-long-slug-name-that-keeps-going", "a-very-long-slug-name-th"},
		{"!!!", ""},
	}
	for _, tt := range tests {
		if got := SanitizeSlug(tt.in); got != tt.want {
			t.Errorf("SanitizeSlug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFallbackSlug(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	if got := FallbackSlug(ts); got != "dmux-1700000000" {
		t.Errorf("got %q", got)
	}
}

func TestMatchesTrustPrompt(t *testing.T) {
	yes := []string{
		"Do you trust the files in this folder?\n> Yes  No",
		"   YES, PROCEED   ",
	}
	no := []string{"$ ", "compiling...", "trust me, this works"}
	for _, s := range yes {
		if !matchesTrustPrompt(s) {
			t.Errorf("missed trust prompt: %q", s)
		}
	}
	for _, s := range no {
		if matchesTrustPrompt(s) {
			t.Errorf("false positive: %q", s)
		}
	}
}

func TestShellQuote(t *testing.T) {
	if got := shellQuote("it's a test"); got != `'it'\''s a test'` {
		t.Errorf("got %s", got)
	}
}

func TestClosePaneOptionsDependOnWorktree(t *testing.T) {
	c, _, _, _, _ := newTestController(t,
		state.Pane{ID: "p1", Slug: "bare", TmuxPaneID: "%1"},
		state.Pane{ID: "p2", Slug: "tree", TmuxPaneID: "%2", WorktreePath: "/tmp/wt"},
	)

	res := c.ClosePane("p1")
	if res.Kind != action.KindChoice {
		t.Fatalf("kind = %v", res.Kind)
	}
	for _, opt := range res.Options {
		if opt.ID == CloseKillAndClean || opt.ID == CloseKillCleanBranch {
			t.Error("cleanup options offered without a worktree")
		}
	}

	res = c.ClosePane("p2")
	ids := map[string]bool{}
	for _, opt := range res.Options {
		ids[opt.ID] = true
	}
	if !ids[CloseKillAndClean] || !ids[CloseKillCleanBranch] {
		t.Error("cleanup options missing for worktree pane")
	}
}

func TestExecuteCloseModes(t *testing.T) {
	wt := t.TempDir()
	c, ft, fg, store, tracker := newTestController(t,
		state.Pane{ID: "p1", Slug: "feat", TmuxPaneID: "%1", WorktreePath: wt},
		state.Pane{ID: "p2", Slug: "other", TmuxPaneID: "%2"},
	)

	if err := c.ExecuteClose("p1", CloseKillCleanBranch); err != nil {
		t.Fatal(err)
	}
	if len(ft.killed) != 1 || ft.killed[0] != "%1" {
		t.Errorf("killed = %v", ft.killed)
	}
	if len(fg.worktreesGone) != 1 || fg.worktreesGone[0] != wt {
		t.Errorf("worktrees removed = %v", fg.worktreesGone)
	}
	if len(fg.branchesDeleted) != 1 {
		t.Errorf("branches deleted = %v", fg.branchesDeleted)
	}
	if err := store.Reload(); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.PaneByID("p1"); ok {
		t.Error("record survived close")
	}
	if len(tracker.untracked) != 1 || tracker.untracked[0] != "p1" {
		t.Errorf("untracked = %v", tracker.untracked)
	}
	if store.IsClosing("p1") {
		t.Error("close lock not released")
	}

	// kill_only keeps git untouched.
	if err := c.ExecuteClose("p2", CloseKillOnly); err != nil {
		t.Fatal(err)
	}
	if len(fg.worktreesGone) != 1 {
		t.Error("kill_only removed a worktree")
	}
}

func TestHandleEventReconcilesVanishedPanes(t *testing.T) {
	c, _, _, store, tracker := newTestController(t,
		state.Pane{ID: "p1", Slug: "gone", TmuxPaneID: "%1"},
		state.Pane{ID: "p2", Slug: "alive", TmuxPaneID: "%2"},
	)

	c.HandleEvent(events.Event{RemovedIDs: []string{"%1"}})

	if err := store.Reload(); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.PaneByID("p1"); ok {
		t.Error("vanished pane's record survived")
	}
	if _, ok := store.PaneByID("p2"); !ok {
		t.Error("unrelated record removed")
	}
	if len(tracker.untracked) != 1 || tracker.untracked[0] != "p1" {
		t.Errorf("untracked = %v", tracker.untracked)
	}
}

func TestHandleEventSkipsCloseLockedPanes(t *testing.T) {
	c, _, _, store, _ := newTestController(t,
		state.Pane{ID: "p1", Slug: "closing", TmuxPaneID: "%1"},
	)
	store.LockClose("p1")
	defer store.UnlockClose("p1")

	c.HandleEvent(events.Event{RemovedIDs: []string{"%1"}})
	if err := store.Reload(); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.PaneByID("p1"); !ok {
		t.Error("close-locked pane was reconciled away")
	}
}

func TestWelcomePaneRecreatedWhenListEmpties(t *testing.T) {
	c, ft, _, store, _ := newTestController(t,
		state.Pane{ID: "p1", Slug: "last", TmuxPaneID: "%1"},
	)

	if err := c.ExecuteClose("p1", CloseKillOnly); err != nil {
		t.Fatal(err)
	}
	if len(ft.split) != 1 {
		t.Fatalf("welcome pane not created, splits = %d", len(ft.split))
	}
	if err := store.Reload(); err != nil {
		t.Fatal(err)
	}
	if store.WelcomePaneID() == "" {
		t.Error("welcome pane id not persisted")
	}
}

func TestWelcomePaneRecreatedAfterEventRemovesLast(t *testing.T) {
	c, ft, _, store, _ := newTestController(t,
		state.Pane{ID: "p1", Slug: "last", TmuxPaneID: "%1"},
	)

	c.HandleEvent(events.Event{RemovedIDs: []string{"%1"}})
	if len(ft.split) != 1 {
		t.Fatalf("welcome pane not created, splits = %d", len(ft.split))
	}
	if err := store.Reload(); err != nil {
		t.Fatal(err)
	}
	if store.WelcomePaneID() == "" {
		t.Error("welcome pane id not persisted")
	}
	if len(store.Panes()) != 0 {
		t.Errorf("panes = %v", store.Panes())
	}
}

func TestCloseClearsPaneLogs(t *testing.T) {
	root := t.TempDir()
	store := state.New(root, "proj", "dmux-proj-abc12345")
	if err := store.SavePanes([]state.Pane{
		{ID: "p1", Slug: "feat", TmuxPaneID: "%1"},
		{ID: "p2", Slug: "other", TmuxPaneID: "%2"},
	}, "%0", ""); err != nil {
		t.Fatal(err)
	}
	if err := store.Reload(); err != nil {
		t.Fatal(err)
	}
	logs := logring.New(32)
	logs.PaneErrorf("%1", "lifecycle", "agent crashed")
	logs.PaneErrorf("%2", "lifecycle", "unrelated")
	c := New(newFakeTmux(), &fakeGit{}, store, nil, hooks.NewRunner(root, nil),
		&fakeTracker{}, logs, "dmux-proj-abc12345", config.DefaultToolConfig())

	if err := c.ExecuteClose("p1", CloseKillOnly); err != nil {
		t.Fatal(err)
	}
	if got := logs.Query(logring.Filter{PaneID: "%1"}); len(got) != 0 {
		t.Errorf("closed pane still has %d log entries", len(got))
	}
	if got := logs.Query(logring.Filter{PaneID: "%2"}); len(got) == 0 {
		t.Error("other pane's entries were cleared")
	}
}

func TestReconciliationClearsPaneLogs(t *testing.T) {
	root := t.TempDir()
	store := state.New(root, "proj", "dmux-proj-abc12345")
	if err := store.SavePanes([]state.Pane{
		{ID: "p1", Slug: "gone", TmuxPaneID: "%1"},
	}, "%0", ""); err != nil {
		t.Fatal(err)
	}
	if err := store.Reload(); err != nil {
		t.Fatal(err)
	}
	logs := logring.New(32)
	logs.PaneErrorf("%1", "analyzer", "stream hiccup")
	c := New(newFakeTmux(), &fakeGit{}, store, nil, hooks.NewRunner(root, nil),
		&fakeTracker{}, logs, "dmux-proj-abc12345", config.DefaultToolConfig())

	c.HandleEvent(events.Event{RemovedIDs: []string{"%1"}})
	if got := logs.Query(logring.Filter{PaneID: "%1"}); len(got) != 0 {
		t.Errorf("vanished pane still has %d log entries", len(got))
	}
}

func TestRenameFlow(t *testing.T) {
	c, ft, _, store, _ := newTestController(t,
		state.Pane{ID: "p1", Slug: "old-name", TmuxPaneID: "%1"},
	)

	res := c.Rename("p1")
	if res.Kind != action.KindInput || res.DefaultValue != "old-name" {
		t.Fatalf("res = %+v", res)
	}
	out := res.OnSubmit("New Name!")
	if out.Kind != action.KindSuccess {
		t.Fatalf("out = %+v", out)
	}
	if err := store.Reload(); err != nil {
		t.Fatal(err)
	}
	pane, _ := store.PaneByID("p1")
	if pane.Slug != "new-name" {
		t.Errorf("slug = %q", pane.Slug)
	}
	if ft.titles["%1"] != "new-name" {
		t.Errorf("title = %q", ft.titles["%1"])
	}
}

func TestToggleAutopilot(t *testing.T) {
	c, _, _, store, _ := newTestController(t,
		state.Pane{ID: "p1", Slug: "x", TmuxPaneID: "%1"},
	)
	res := c.ToggleAutopilot("p1")
	if res.Kind != action.KindSuccess || !strings.Contains(res.Message, "enabled") {
		t.Fatalf("res = %+v", res)
	}
	if err := store.Reload(); err != nil {
		t.Fatal(err)
	}
	pane, _ := store.PaneByID("p1")
	if !pane.Autopilot {
		t.Error("autopilot not set")
	}
}

func TestUniqueSlugSuffixesCollisions(t *testing.T) {
	c, _, _, _, _ := newTestController(t,
		state.Pane{ID: "p1", Slug: "fix-auth", TmuxPaneID: "%1"},
	)
	if got := c.uniqueSlug("fix-auth"); got != "fix-auth-2" {
		t.Errorf("got %q", got)
	}
	if got := c.uniqueSlug("fresh"); got != "fresh" {
		t.Errorf("got %q", got)
	}
}

func TestRunTestsWithoutHook(t *testing.T) {
	c, _, _, _, _ := newTestController(t,
		state.Pane{ID: "p1", Slug: "feat", TmuxPaneID: "%1", WorktreePath: "/wt"},
	)
	res := c.RunTests("p1")
	if res.Kind != action.KindError || !strings.Contains(res.Message, "run_test") {
		t.Fatalf("res = %+v", res)
	}
}

func TestRunTestsMarksRunning(t *testing.T) {
	c, _, _, store, _ := newTestController(t,
		state.Pane{ID: "p1", Slug: "feat", TmuxPaneID: "%1", WorktreePath: "/wt"},
	)
	dir := config.TeamHooksDir(store.ProjectRoot())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	script := filepath.Join(dir, hooks.HookRunTest)
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	res := c.RunTests("p1")
	if res.Kind != action.KindInfo {
		t.Fatalf("res = %+v", res)
	}
	if err := store.Reload(); err != nil {
		t.Fatal(err)
	}
	pane, _ := store.PaneByID("p1")
	if pane.TestStatus != state.TestRunning {
		t.Errorf("testStatus = %q", pane.TestStatus)
	}
}
