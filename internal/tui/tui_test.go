package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dmux-sh/dmux/internal/action"
	"github.com/dmux-sh/dmux/internal/config"
	"github.com/dmux-sh/dmux/internal/lifecycle"
	"github.com/dmux-sh/dmux/internal/logring"
	"github.com/dmux-sh/dmux/internal/state"
)

type fakeOps struct {
	calls       []string
	created     []lifecycle.CreateOptions
	agentChoice bool
	renamedTo   string
}

func (f *fakeOps) Create(ctx context.Context, opts lifecycle.CreateOptions) (lifecycle.CreateResult, error) {
	f.created = append(f.created, opts)
	if f.agentChoice && opts.Agent == "" {
		return lifecycle.CreateResult{
			NeedsAgentChoice: true,
			AvailableAgents:  []config.Agent{"claude", "codex"},
		}, nil
	}
	return lifecycle.CreateResult{Pane: &state.Pane{ID: "new", Slug: "fresh"}}, nil
}

func (f *fakeOps) ClosePane(paneID string) action.Result {
	f.calls = append(f.calls, "close "+paneID)
	return action.Confirm("Close agent?", "The pane will be killed.", func() action.Result {
		f.calls = append(f.calls, "closed "+paneID)
		return action.Success("closed " + paneID)
	})
}

func (f *fakeOps) Rename(paneID string) action.Result {
	return action.Input("Rename", "", "slug", "feat", func(value string) action.Result {
		f.renamedTo = value
		return action.Success("renamed to " + value)
	})
}

func (f *fakeOps) Duplicate(ctx context.Context, paneID string) action.Result {
	f.calls = append(f.calls, "duplicate "+paneID)
	return action.Success("duplicated")
}

func (f *fakeOps) OpenInEditor(paneID string) action.Result { return action.Info("opened") }

func (f *fakeOps) CopyPath(paneID string) action.Result { return action.Success("/tmp") }

func (f *fakeOps) ToggleAutopilot(paneID string) action.Result {
	f.calls = append(f.calls, "autopilot "+paneID)
	return action.Success("autopilot on")
}

func (f *fakeOps) FocusPane(paneID string) action.Result {
	f.calls = append(f.calls, "focus "+paneID)
	return action.Navigation("", "%1")
}

type fakeMerger struct{ calls []string }

func (f *fakeMerger) Merge(ctx context.Context, paneID, target string) action.Result {
	f.calls = append(f.calls, "merge "+paneID)
	return action.Info("nothing to merge")
}

func snapshotWith(panes ...state.Pane) state.Snapshot {
	return state.Snapshot{
		Panes:       panes,
		ProjectName: "proj",
		SessionName: "dmux-proj-abc12345",
	}
}

func newTestModel(snap state.Snapshot) (Model, *fakeOps, *fakeMerger) {
	ops := &fakeOps{}
	merger := &fakeMerger{}
	logs := logring.New(50)
	m := NewModel(snap, logs, logring.NewToaster(logs), ops, merger, nil)
	return m, ops, merger
}

type fakeSuspender struct {
	paused  int
	resumed int
}

func (f *fakeSuspender) Pause()  { f.paused++ }
func (f *fakeSuspender) Resume() { f.resumed++ }

// press runs one key through Update and then drains any command it
// produced, feeding the resulting message back in.
func press(t *testing.T, m Model, k string) Model {
	t.Helper()
	var msg tea.KeyMsg
	switch k {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	case "up":
		msg = tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		msg = tea.KeyMsg{Type: tea.KeyDown}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	next, cmd := m.Update(msg)
	m = next.(Model)
	for cmd != nil {
		out := cmd()
		if out == nil {
			break
		}
		next, cmd = m.Update(out)
		m = next.(Model)
	}
	return m
}

func TestPaneListRenders(t *testing.T) {
	m, _, _ := newTestModel(snapshotWith(
		state.Pane{ID: "p1", Slug: "fix-auth", AgentStatus: state.StatusWorking, Agent: "claude"},
		state.Pane{ID: "p2", Slug: "add-tests", AgentStatus: state.StatusWaiting,
			OptionsQuestion: "Overwrite the fixture?"},
	))
	view := m.View()
	for _, want := range []string{"fix-auth", "add-tests", "Overwrite the fixture?", "proj"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestEmptyListHint(t *testing.T) {
	m, _, _ := newTestModel(snapshotWith())
	if !strings.Contains(m.View(), "press n") {
		t.Error("empty list hint missing")
	}
}

func TestCursorNavigation(t *testing.T) {
	m, _, _ := newTestModel(snapshotWith(
		state.Pane{ID: "p1", Slug: "one"},
		state.Pane{ID: "p2", Slug: "two"},
	))
	m = press(t, m, "j")
	if m.cursor != 1 {
		t.Fatalf("cursor = %d after j", m.cursor)
	}
	m = press(t, m, "j")
	if m.cursor != 1 {
		t.Errorf("cursor = %d, want clamp at 1", m.cursor)
	}
	m = press(t, m, "k")
	if m.cursor != 0 {
		t.Errorf("cursor = %d after k", m.cursor)
	}
}

func TestSnapshotClampsCursor(t *testing.T) {
	m, _, _ := newTestModel(snapshotWith(
		state.Pane{ID: "p1"}, state.Pane{ID: "p2"}, state.Pane{ID: "p3"},
	))
	m = press(t, m, "j")
	m = press(t, m, "j")

	next, _ := m.Update(SnapshotMsg(snapshotWith(state.Pane{ID: "p1"})))
	m = next.(Model)
	if m.cursor != 0 {
		t.Errorf("cursor = %d after shrink", m.cursor)
	}
}

func TestCloseConfirmFlow(t *testing.T) {
	m, ops, _ := newTestModel(snapshotWith(state.Pane{ID: "p1", Slug: "feat"}))

	m = press(t, m, "x")
	if m.dlg == nil {
		t.Fatal("no dialog after close")
	}
	if !strings.Contains(m.View(), "Close agent?") {
		t.Error("confirm dialog not rendered")
	}

	m = press(t, m, "y")
	if !strings.Contains(m.View(), "closed p1") {
		t.Errorf("success dialog missing, view:\n%s", m.View())
	}
	found := false
	for _, c := range ops.calls {
		if c == "closed p1" {
			found = true
		}
	}
	if !found {
		t.Errorf("confirm callback not invoked, calls = %v", ops.calls)
	}

	m = press(t, m, "enter")
	if m.dlg != nil {
		t.Error("dialog still open after dismiss")
	}
}

func TestConfirmDeclined(t *testing.T) {
	m, ops, _ := newTestModel(snapshotWith(state.Pane{ID: "p1"}))
	m = press(t, m, "x")
	m = press(t, m, "n")
	if m.dlg != nil {
		t.Error("dialog still open after decline")
	}
	for _, c := range ops.calls {
		if c == "closed p1" {
			t.Error("confirm callback ran on decline")
		}
	}
}

func TestRenameInputSubmitsDefault(t *testing.T) {
	m, ops, _ := newTestModel(snapshotWith(state.Pane{ID: "p1", Slug: "feat"}))
	m = press(t, m, "r")
	if m.dlg == nil || m.dlg.res.Kind != action.KindInput {
		t.Fatal("no input dialog after rename")
	}
	m = press(t, m, "enter")
	if ops.renamedTo != "feat" {
		t.Errorf("renamedTo = %q", ops.renamedTo)
	}
	if !strings.Contains(m.View(), "renamed to feat") {
		t.Error("success dialog missing")
	}
}

func TestChoiceQuickSelect(t *testing.T) {
	m, _, _ := newTestModel(snapshotWith())
	var picked string
	m.applyResult(action.Choice("Pick", "", []action.ChoiceOption{
		{ID: "first", Label: "First"},
		{ID: "second", Label: "Second"},
	}, func(id string) action.Result {
		picked = id
		return action.None
	}))

	m = press(t, m, "2")
	if picked != "second" {
		t.Errorf("picked = %q", picked)
	}
	if m.dlg != nil {
		t.Error("dialog still open after selection")
	}
}

func TestChoiceCursorSelect(t *testing.T) {
	m, _, _ := newTestModel(snapshotWith())
	var picked string
	m.applyResult(action.Choice("Pick", "", []action.ChoiceOption{
		{ID: "first", Label: "First"},
		{ID: "second", Label: "Second"},
	}, func(id string) action.Result {
		picked = id
		return action.Success("done")
	}))

	m = press(t, m, "down")
	m = press(t, m, "enter")
	if picked != "second" {
		t.Errorf("picked = %q", picked)
	}
}

func TestNewAgentFlow(t *testing.T) {
	m, ops, _ := newTestModel(snapshotWith())
	m = press(t, m, "n")
	if m.dlg == nil || m.dlg.res.Kind != action.KindInput {
		t.Fatal("no input dialog after n")
	}
	for _, r := range "fix bug" {
		m = press(t, m, string(r))
	}
	m = press(t, m, "enter")

	if len(ops.created) != 1 || ops.created[0].Prompt != "fix bug" {
		t.Fatalf("created = %+v", ops.created)
	}
	if !strings.Contains(m.View(), "started fresh") {
		t.Error("success dialog missing")
	}
}

func TestNewAgentChoiceFlow(t *testing.T) {
	m, ops, _ := newTestModel(snapshotWith())
	ops.agentChoice = true

	m = press(t, m, "n")
	for _, r := range "task" {
		m = press(t, m, string(r))
	}
	m = press(t, m, "enter")
	if m.dlg == nil || m.dlg.res.Kind != action.KindChoice {
		t.Fatal("expected agent choice dialog")
	}

	m = press(t, m, "2")
	if len(ops.created) != 2 || ops.created[1].Agent != "codex" {
		t.Fatalf("created = %+v", ops.created)
	}
}

func TestMergeNeedsWorktree(t *testing.T) {
	m, _, merger := newTestModel(snapshotWith(state.Pane{ID: "p1", Slug: "shell"}))
	m = press(t, m, "m")
	if len(merger.calls) != 0 {
		t.Errorf("merge dispatched without worktree: %v", merger.calls)
	}

	m, _, merger = newTestModel(snapshotWith(
		state.Pane{ID: "p1", Slug: "feat", WorktreePath: "/wt"},
	))
	m = press(t, m, "m")
	if len(merger.calls) != 1 {
		t.Errorf("merge calls = %v", merger.calls)
	}
	_ = m
}

func TestToastLine(t *testing.T) {
	m, _, _ := newTestModel(snapshotWith())
	m.toasts.Push("branch merged", logring.LevelInfo)
	if !strings.Contains(m.View(), "branch merged") {
		t.Error("toast not rendered")
	}
}

func TestUnreadBadge(t *testing.T) {
	m, _, _ := newTestModel(snapshotWith())
	m.logs.Errorf("merge", "boom")
	if !strings.Contains(m.View(), "! 1") {
		t.Error("unread badge missing")
	}
}

func TestDialogPausesAnalysis(t *testing.T) {
	ops := &fakeOps{}
	logs := logring.New(50)
	susp := &fakeSuspender{}
	m := NewModel(snapshotWith(state.Pane{ID: "p1", Slug: "feat"}),
		logs, logring.NewToaster(logs), ops, &fakeMerger{}, susp)

	m = press(t, m, "x")
	if m.dlg == nil {
		t.Fatal("no dialog after close")
	}
	if susp.paused != 1 || susp.resumed != 0 {
		t.Fatalf("after open: paused=%d resumed=%d", susp.paused, susp.resumed)
	}

	// Confirm swaps in the success dialog; that is one continuous pause.
	m = press(t, m, "y")
	if m.dlg == nil {
		t.Fatal("no success dialog after confirm")
	}
	if susp.paused != 1 {
		t.Errorf("dialog swap re-paused: paused=%d", susp.paused)
	}

	m = press(t, m, "enter")
	if m.dlg != nil {
		t.Fatal("dialog still open after dismiss")
	}
	if susp.paused != 1 || susp.resumed != 1 {
		t.Errorf("after dismiss: paused=%d resumed=%d", susp.paused, susp.resumed)
	}
}

func TestDeclinedDialogResumesAnalysis(t *testing.T) {
	ops := &fakeOps{}
	logs := logring.New(50)
	susp := &fakeSuspender{}
	m := NewModel(snapshotWith(state.Pane{ID: "p1", Slug: "feat"}),
		logs, logring.NewToaster(logs), ops, &fakeMerger{}, susp)

	m = press(t, m, "x")
	m = press(t, m, "n")
	if m.dlg != nil {
		t.Fatal("dialog still open after decline")
	}
	if susp.paused != 1 || susp.resumed != 1 {
		t.Errorf("paused=%d resumed=%d", susp.paused, susp.resumed)
	}
}

func TestFocusNavigates(t *testing.T) {
	m, ops, _ := newTestModel(snapshotWith(state.Pane{ID: "p1", Slug: "feat"}))
	m = press(t, m, "enter")
	if len(ops.calls) != 1 || ops.calls[0] != "focus p1" {
		t.Errorf("calls = %v", ops.calls)
	}
	if m.dlg != nil {
		t.Error("navigation opened a dialog")
	}
}
