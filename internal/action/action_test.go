package action

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dmux-sh/dmux/internal/config"
	"github.com/dmux-sh/dmux/internal/state"
)

func TestResultSerialisationOmitsCallbacks(t *testing.T) {
	res := Confirm("Close pane?", "This kills the agent.", func() Result {
		return Success("closed")
	})
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	if strings.Contains(s, "OnConfirm") || strings.Contains(s, "onConfirm") {
		t.Errorf("callback leaked into JSON: %s", s)
	}
	if !strings.Contains(s, `"kind":"confirm"`) {
		t.Errorf("kind missing: %s", s)
	}
}

func TestRegistryConfirmChain(t *testing.T) {
	reg := NewRegistry()
	res := reg.Materialise(Confirm("Sure?", "really", func() Result {
		return Input("Name", "pick one", "", "old", func(v string) Result {
			return Success("renamed to " + v)
		})
	}))
	if res.CallbackID == "" {
		t.Fatal("no callback id assigned")
	}

	next, err := reg.ResolveConfirm(res.CallbackID, true)
	if err != nil {
		t.Fatal(err)
	}
	if next.Kind != KindInput || next.CallbackID == "" {
		t.Fatalf("chained result = %+v", next)
	}

	final, err := reg.ResolveInput(next.CallbackID, "fresh")
	if err != nil {
		t.Fatal(err)
	}
	if final.Kind != KindSuccess || final.Message != "renamed to fresh" {
		t.Errorf("final = %+v", final)
	}

	// Each callback fires once.
	if _, err := reg.ResolveConfirm(res.CallbackID, true); !errors.Is(err, ErrCallbackNotFound) {
		t.Errorf("second resolve err = %v", err)
	}
}

func TestRegistryCancelPath(t *testing.T) {
	reg := NewRegistry()
	cancelled := false
	res := reg.Materialise(Result{
		Kind:      KindConfirm,
		Title:     "Merge?",
		OnConfirm: func() Result { return Success("merged") },
		OnCancel: func() Result {
			cancelled = true
			return Info("kept as is")
		},
	})
	out, err := reg.ResolveConfirm(res.CallbackID, false)
	if err != nil {
		t.Fatal(err)
	}
	if !cancelled || out.Kind != KindInfo {
		t.Errorf("cancel path: cancelled=%v out=%+v", cancelled, out)
	}
}

func TestRegistryKindMismatch(t *testing.T) {
	reg := NewRegistry()
	res := reg.Materialise(Choice("Pick", "one of", []ChoiceOption{{ID: "a", Label: "A"}}, func(string) Result {
		return None
	}))
	if _, err := reg.ResolveInput(res.CallbackID, "x"); !errors.Is(err, ErrWrongKind) {
		t.Errorf("err = %v, want ErrWrongKind", err)
	}
	// A mismatch must not consume the callback.
	if _, err := reg.ResolveChoice(res.CallbackID, "a"); err != nil {
		t.Errorf("callback consumed by mismatched resolve: %v", err)
	}
}

func TestRegistryTTLExpiry(t *testing.T) {
	reg := NewRegistry()
	now := time.Now()
	reg.now = func() time.Time { return now }

	res := reg.Materialise(Confirm("Old?", "", func() Result { return None }))

	now = now.Add(DefaultTTL + time.Minute)
	if _, err := reg.ResolveConfirm(res.CallbackID, true); !errors.Is(err, ErrCallbackNotFound) {
		t.Errorf("expired callback resolved: %v", err)
	}

	reg.Materialise(Confirm("Another old one", "", nil))
	now = now.Add(DefaultTTL + time.Minute)
	if removed := reg.GC(); removed != 1 {
		t.Errorf("GC removed %d, want 1", removed)
	}
	if reg.Len() != 0 {
		t.Errorf("len = %d after GC", reg.Len())
	}
}

func TestAvailableHidesWorktreeActions(t *testing.T) {
	settings := config.Settings{}

	plain := state.Pane{ID: "p1", TmuxPaneID: "%1"}
	ids := map[string]bool{}
	for _, d := range Available(plain, settings) {
		ids[d.ID] = true
	}
	if ids[ActionMerge] || ids[ActionOpenInEditor] {
		t.Error("worktree actions offered for a pane without a worktree")
	}
	if !ids[ActionClose] || !ids[ActionRename] {
		t.Error("base actions missing")
	}

	wt := state.Pane{ID: "p2", TmuxPaneID: "%2", WorktreePath: "/tmp/wt"}
	ids = map[string]bool{}
	for _, d := range Available(wt, settings) {
		ids[d.ID] = true
	}
	if !ids[ActionMerge] || !ids[ActionCopyPath] {
		t.Error("worktree actions missing for a worktree pane")
	}
}

func TestAutopilotLabelFlips(t *testing.T) {
	settings := config.Settings{}
	on := state.Pane{ID: "p1", Autopilot: true}
	for _, d := range Available(on, settings) {
		if d.ID == ActionToggleAutopilot && !strings.HasPrefix(d.Label, "Disable") {
			t.Errorf("label = %q", d.Label)
		}
	}
}
