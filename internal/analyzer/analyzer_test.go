package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dmux-sh/dmux/internal/llm"
	"github.com/dmux-sh/dmux/internal/state"
)

type fakeCapture struct {
	mu      sync.Mutex
	content string
	calls   int
}

func (f *fakeCapture) CapturePane(paneID string, lastN int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.content, nil
}

// scriptedProvider returns canned responses in order, then repeats the last.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (p *scriptedProvider) Name() string    { return "scripted" }
func (p *scriptedProvider) Available() bool { return true }
func (p *scriptedProvider) Call(ctx context.Context, req llm.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	if len(p.responses) == 0 {
		return "", errors.New("script exhausted")
	}
	out := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return out, nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent [][]string
}

func (f *fakeSender) SendKeys(paneID string, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]string{paneID}, keys...))
	return nil
}

func newTestStore(t *testing.T, panes ...state.Pane) *state.Store {
	t.Helper()
	s := state.New(t.TempDir(), "proj", "dmux-proj-abc12345")
	if err := s.SavePanes(panes, "%0", ""); err != nil {
		t.Fatal(err)
	}
	// No config watcher runs in tests; settle the projection by hand.
	if err := s.Reload(); err != nil {
		t.Fatal(err)
	}
	return s
}

func stateJSON(s string) string {
	out, _ := json.Marshal(map[string]string{"state": s})
	return string(out)
}

func TestClassifyFailureMeansWorking(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("model down")}
	capture := &fakeCapture{content: "compiling..."}
	store := newTestStore(t, state.Pane{ID: "p1", TmuxPaneID: "%1", Slug: "fix-build"})
	a := New(capture, llm.NewChain(nil, provider), store, nil, nil)

	got, err := a.AnalyzeOnce(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != stateInProgress || got.Status != state.StatusWorking {
		t.Errorf("got %+v, want in_progress/working", got)
	}
}

func TestAnalyzeOnceCachesByContent(t *testing.T) {
	provider := &scriptedProvider{responses: []string{stateJSON(stateInProgress)}}
	capture := &fakeCapture{content: "esbuild (esc to interrupt)"}
	store := newTestStore(t, state.Pane{ID: "p1", TmuxPaneID: "%1"})
	a := New(capture, llm.NewChain(nil, provider), store, nil, nil)

	for i := 0; i < 3; i++ {
		if _, err := a.AnalyzeOnce(context.Background(), "p1"); err != nil {
			t.Fatal(err)
		}
	}
	if provider.calls != 1 {
		t.Errorf("model called %d times for identical content, want 1", provider.calls)
	}

	capture.mu.Lock()
	capture.content = "something new"
	capture.mu.Unlock()
	if _, err := a.AnalyzeOnce(context.Background(), "p1"); err != nil {
		t.Fatal(err)
	}
	if provider.calls != 2 {
		t.Errorf("model called %d times after content change, want 2", provider.calls)
	}
}

func TestOptionDialogExtraction(t *testing.T) {
	dialog := `{"question":"Apply this edit?","options":[{"action":"yes","keys":"1"},{"action":"no","keys":["2"],"description":"skip"}],"potential_harm":{"has_risk":false,"description":""}}`
	provider := &scriptedProvider{responses: []string{stateJSON(stateOptionDialog), dialog}}
	capture := &fakeCapture{content: "1. yes\n2. no"}
	store := newTestStore(t, state.Pane{ID: "p1", TmuxPaneID: "%1"})
	a := New(capture, llm.NewChain(nil, provider), store, nil, nil)

	got, err := a.AnalyzeOnce(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != state.StatusWaiting {
		t.Fatalf("status = %v", got.Status)
	}
	if got.Question != "Apply this edit?" {
		t.Errorf("question = %q", got.Question)
	}
	if len(got.Options) != 2 {
		t.Fatalf("options = %+v", got.Options)
	}
	// Bare-string keys are normalised to a list.
	if len(got.Options[0].Keys) != 1 || got.Options[0].Keys[0] != "1" {
		t.Errorf("keys = %v", got.Options[0].Keys)
	}
	if got.Harm == nil || got.Harm.HasRisk {
		t.Errorf("harm = %+v", got.Harm)
	}
}

func TestOpenPromptSummary(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		stateJSON(stateOpenPrompt),
		`{"summary":"Refactored the parser and fixed two failing tests."}`,
	}}
	capture := &fakeCapture{content: "> "}
	store := newTestStore(t, state.Pane{ID: "p1", TmuxPaneID: "%1"})
	a := New(capture, llm.NewChain(nil, provider), store, nil, nil)

	got, err := a.AnalyzeOnce(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != state.StatusIdle {
		t.Fatalf("status = %v", got.Status)
	}
	if got.Summary == "" {
		t.Error("summary missing")
	}
}

func TestNormaliseKeys(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{`["1","2"]`, []string{"1", "2"}},
		{`"Enter"`, []string{"Enter"}},
		{`1`, []string{"1"}},
		{`null`, nil},
		{``, nil},
	}
	for _, tt := range tests {
		got := normaliseKeys(json.RawMessage(tt.in))
		if len(got) != len(tt.want) {
			t.Errorf("normaliseKeys(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("normaliseKeys(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestStabilityFilterSuppressesFlicker(t *testing.T) {
	store := newTestStore(t, state.Pane{ID: "p1", TmuxPaneID: "%1"})
	a := New(&fakeCapture{}, llm.NewChain(nil, &scriptedProvider{}), store, nil, nil)

	// Raw sequence working, idle, working: the middle sample must not leak.
	seq := []state.AgentStatus{state.StatusWorking, state.StatusIdle, state.StatusWorking}
	for _, raw := range seq {
		a.publish("p1", Analysis{Status: raw})
		if err := store.Reload(); err != nil {
			t.Fatal(err)
		}
		pane, _ := store.PaneByID("p1")
		if pane.AgentStatus != state.StatusWorking {
			t.Fatalf("after raw %v: published %v, want working", raw, pane.AgentStatus)
		}
	}

	// Two consecutive idle samples flip it.
	a.publish("p1", Analysis{Status: state.StatusIdle})
	a.publish("p1", Analysis{Status: state.StatusIdle})
	if err := store.Reload(); err != nil {
		t.Fatal(err)
	}
	pane, _ := store.PaneByID("p1")
	if pane.AgentStatus != state.StatusIdle {
		t.Errorf("status = %v, want idle after two agreeing samples", pane.AgentStatus)
	}
}

func TestTransitionClearingRules(t *testing.T) {
	store := newTestStore(t, state.Pane{
		ID:              "p1",
		TmuxPaneID:      "%1",
		AgentStatus:     state.StatusWaiting,
		OptionsQuestion: "Proceed?",
		Options:         []state.Option{{Action: "yes", Keys: []string{"1"}}},
		PotentialHarm:   &state.PotentialHarm{HasRisk: true, Description: "deletes files"},
		AnalyzerError:   "earlier failure",
	})
	a := New(&fakeCapture{}, llm.NewChain(nil, &scriptedProvider{}), store, nil, nil)

	a.publish("p1", Analysis{Status: state.StatusWorking})
	if err := store.Reload(); err != nil {
		t.Fatal(err)
	}
	pane, _ := store.PaneByID("p1")
	if pane.AgentStatus != state.StatusWorking {
		t.Fatalf("status = %v", pane.AgentStatus)
	}
	if pane.OptionsQuestion != "" || pane.Options != nil || pane.PotentialHarm != nil {
		t.Error("option fields survived the transition away from waiting")
	}
	if pane.AnalyzerError != "" {
		t.Error("analyzerError survived the transition to working")
	}

	// idle -> waiting clears the summary.
	store2 := newTestStore(t, state.Pane{
		ID:           "p2",
		TmuxPaneID:   "%2",
		AgentStatus:  state.StatusIdle,
		AgentSummary: "Did a thing.",
	})
	b := New(&fakeCapture{}, llm.NewChain(nil, &scriptedProvider{}), store2, nil, nil)
	b.publish("p2", Analysis{Status: state.StatusWaiting, Question: "Pick one"})
	if err := store2.Reload(); err != nil {
		t.Fatal(err)
	}
	pane, _ = store2.PaneByID("p2")
	if pane.AgentSummary != "" {
		t.Error("agentSummary survived the transition away from idle")
	}
	if pane.OptionsQuestion != "Pick one" {
		t.Errorf("optionsQuestion = %q", pane.OptionsQuestion)
	}
}

func TestAutopilotSendsDefaultKeys(t *testing.T) {
	store := newTestStore(t, state.Pane{ID: "p1", TmuxPaneID: "%7", Autopilot: true})
	sender := &fakeSender{}
	a := New(&fakeCapture{}, llm.NewChain(nil, &scriptedProvider{}), store, sender, nil)

	a.publish("p1", Analysis{
		Status:  state.StatusWaiting,
		Options: []state.Option{{Action: "yes", Keys: []string{"1"}}},
		Harm:    &state.PotentialHarm{HasRisk: false},
	})

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d times, want 1", len(sender.sent))
	}
	if got := sender.sent[0]; got[0] != "%7" || got[1] != "1" {
		t.Errorf("sent = %v", got)
	}
}

func TestAutopilotRefusesRiskyDialogs(t *testing.T) {
	store := newTestStore(t, state.Pane{ID: "p1", TmuxPaneID: "%7", Autopilot: true})
	sender := &fakeSender{}
	a := New(&fakeCapture{}, llm.NewChain(nil, &scriptedProvider{}), store, sender, nil)

	a.publish("p1", Analysis{
		Status:  state.StatusWaiting,
		Options: []state.Option{{Action: "delete all", Keys: []string{"1"}}},
		Harm:    &state.PotentialHarm{HasRisk: true, Description: "rm -rf"},
	})

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 0 {
		t.Errorf("risky dialog triggered autopilot: %v", sender.sent)
	}
}
