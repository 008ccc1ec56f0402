// Package analyzer classifies what each agent pane is doing. It captures the
// pane's visible tail, asks a small model to bucket the state, and publishes
// status updates through the state store. Caching, request deduplication and
// a short stability window keep the model bill and the UI flicker down.
package analyzer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmux-sh/dmux/internal/llm"
	"github.com/dmux-sh/dmux/internal/logring"
	"github.com/dmux-sh/dmux/internal/state"
)

// Raw classifier states (stage A).
const (
	stateOptionDialog = "option_dialog"
	stateInProgress   = "in_progress"
	stateOpenPrompt   = "open_prompt"
)

// Loop timing.
const (
	captureLines        = 50
	stabilityWindow     = 3
	DefaultWorkInterval = time.Second
	DefaultIdleInterval = 2 * time.Second
	llmTimeout          = 20 * time.Second
)

// Analysis is one classification result.
type Analysis struct {
	State    string
	Status   state.AgentStatus
	Question string
	Options  []state.Option
	Harm     *state.PotentialHarm
	Summary  string
	Err      string
}

// Capturer is the slice of the tmux adapter the analyzer reads through.
type Capturer interface {
	CapturePane(paneID string, lastN int) (string, error)
}

// KeySender delivers autopilot keystrokes.
type KeySender interface {
	SendKeys(paneID string, keys ...string) error
}

type inflightCall struct {
	done     chan struct{}
	analysis Analysis
	err      error
}

// Analyzer runs one classification task per tracked pane.
type Analyzer struct {
	capture Capturer
	chain   *llm.Chain
	store   *state.Store
	keys    KeySender
	log     *logring.Ring
	cache   *resultCache

	WorkInterval time.Duration
	IdleInterval time.Duration

	mu       sync.Mutex
	inflight map[string]*inflightCall
	windows  map[string][]state.AgentStatus
	tasks    map[string]context.CancelFunc
	paused   bool
}

// New builds an analyzer. keys may be nil to disable autopilot delivery.
func New(capture Capturer, chain *llm.Chain, store *state.Store, keys KeySender, log *logring.Ring) *Analyzer {
	return &Analyzer{
		capture:      capture,
		chain:        chain,
		store:        store,
		keys:         keys,
		log:          log,
		cache:        newResultCache(cacheTTL, cacheMaxSize),
		WorkInterval: DefaultWorkInterval,
		IdleInterval: DefaultIdleInterval,
		inflight:     make(map[string]*inflightCall),
		windows:      make(map[string][]state.AgentStatus),
		tasks:        make(map[string]context.CancelFunc),
	}
}

// Track starts the periodic task for a pane. Tracking an already-tracked
// pane is a no-op.
func (a *Analyzer) Track(paneID string) {
	a.mu.Lock()
	if _, ok := a.tasks[paneID]; ok {
		a.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.tasks[paneID] = cancel
	a.mu.Unlock()
	go a.run(ctx, paneID)
}

// Untrack cancels the pane's task and drops its stability window.
func (a *Analyzer) Untrack(paneID string) {
	a.mu.Lock()
	cancel, ok := a.tasks[paneID]
	delete(a.tasks, paneID)
	delete(a.windows, paneID)
	a.mu.Unlock()
	if ok {
		cancel()
	}
}

// Pause suspends analysis while a modal dialog is open; Resume lifts it.
func (a *Analyzer) Pause() {
	a.mu.Lock()
	a.paused = true
	a.mu.Unlock()
}

func (a *Analyzer) Resume() {
	a.mu.Lock()
	a.paused = false
	a.mu.Unlock()
}

// Stop cancels every task.
func (a *Analyzer) Stop() {
	a.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(a.tasks))
	for id, cancel := range a.tasks {
		cancels = append(cancels, cancel)
		delete(a.tasks, id)
	}
	a.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (a *Analyzer) run(ctx context.Context, paneID string) {
	for {
		interval := a.IdleInterval

		a.mu.Lock()
		paused := a.paused
		a.mu.Unlock()

		if !paused {
			analysis, err := a.AnalyzeOnce(ctx, paneID)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				if a.log != nil {
					a.log.Debugf("analyzer", "pane %s: %v", paneID, err)
				}
			} else {
				published := a.publish(paneID, analysis)
				if published == state.StatusWorking {
					interval = a.WorkInterval
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// AnalyzeOnce runs the capture-classify pipeline for one pane, addressed by
// record id. Identical content within the cache TTL returns the cached
// analysis; identical concurrent requests share one model call.
func (a *Analyzer) AnalyzeOnce(ctx context.Context, paneID string) (Analysis, error) {
	pane, ok := a.store.PaneByID(paneID)
	if !ok {
		return Analysis{}, fmt.Errorf("pane %s no longer exists", paneID)
	}
	content, err := a.capture.CapturePane(pane.TmuxPaneID, captureLines)
	if err != nil {
		return Analysis{}, fmt.Errorf("capturing pane %s: %w", pane.TmuxPaneID, err)
	}

	sum := md5.Sum([]byte(content))
	hash := hex.EncodeToString(sum[:])

	if cached, ok := a.cache.Get(hash); ok {
		return cached, nil
	}

	key := paneID + ":" + hash
	a.mu.Lock()
	if call, ok := a.inflight[key]; ok {
		a.mu.Unlock()
		select {
		case <-call.done:
			return call.analysis, call.err
		case <-ctx.Done():
			return Analysis{}, ctx.Err()
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	a.inflight[key] = call
	a.mu.Unlock()

	analysis := a.classify(ctx, content)

	call.analysis = analysis
	close(call.done)
	a.mu.Lock()
	delete(a.inflight, key)
	a.mu.Unlock()

	if ctx.Err() == nil {
		a.cache.Put(hash, analysis)
	}
	return analysis, nil
}

func (a *Analyzer) classify(ctx context.Context, content string) Analysis {
	analysis := Analysis{State: a.classifyState(ctx, content)}

	switch analysis.State {
	case stateOptionDialog:
		analysis.Status = state.StatusWaiting
		a.extractOptions(ctx, content, &analysis)
	case stateOpenPrompt:
		analysis.Status = state.StatusIdle
		analysis.Summary = a.summarise(ctx, content)
	default:
		analysis.Status = state.StatusWorking
	}
	return analysis
}

// classifyState is stage A. Model failure counts as in_progress so a flaky
// provider never strands a pane in a waiting state it isn't in.
func (a *Analyzer) classifyState(ctx context.Context, content string) string {
	out, err := a.chain.Call(ctx, llm.Request{
		Prompt:    fmt.Sprintf(classifyPrompt, content),
		JSON:      true,
		MaxTokens: 100,
		Timeout:   llmTimeout,
	})
	if err != nil || out == "" {
		return stateInProgress
	}
	var parsed struct {
		State string `json:"state"`
	}
	if raw := llm.ExtractJSON(out); raw != "" {
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			switch parsed.State {
			case stateOptionDialog, stateInProgress, stateOpenPrompt:
				return parsed.State
			}
		}
	}
	// No parseable object: scan the raw text for a state word.
	for _, s := range []string{stateOptionDialog, stateOpenPrompt, stateInProgress} {
		if strings.Contains(out, s) {
			return s
		}
	}
	return stateInProgress
}

// rawOption tolerates "keys" arriving as a bare string instead of a list.
type rawOption struct {
	Action      string          `json:"action"`
	Keys        json.RawMessage `json:"keys"`
	Description string          `json:"description"`
}

func (a *Analyzer) extractOptions(ctx context.Context, content string, analysis *Analysis) {
	out, err := a.chain.Call(ctx, llm.Request{
		Prompt:    fmt.Sprintf(optionsPrompt, content),
		JSON:      true,
		MaxTokens: 500,
		Timeout:   llmTimeout,
	})
	if err != nil || out == "" {
		analysis.Err = "option extraction failed"
		return
	}
	var parsed struct {
		Question      string      `json:"question"`
		Options       []rawOption `json:"options"`
		PotentialHarm *struct {
			HasRisk     bool   `json:"has_risk"`
			Description string `json:"description"`
		} `json:"potential_harm"`
	}
	raw := llm.ExtractJSON(out)
	if raw == "" {
		analysis.Err = "option extraction returned no JSON"
		return
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		analysis.Err = fmt.Sprintf("option extraction unparseable: %v", err)
		return
	}
	analysis.Question = parsed.Question
	for _, opt := range parsed.Options {
		analysis.Options = append(analysis.Options, state.Option{
			Action:      opt.Action,
			Keys:        normaliseKeys(opt.Keys),
			Description: opt.Description,
		})
	}
	if parsed.PotentialHarm != nil {
		analysis.Harm = &state.PotentialHarm{
			HasRisk:     parsed.PotentialHarm.HasRisk,
			Description: parsed.PotentialHarm.Description,
		}
	}
}

func (a *Analyzer) summarise(ctx context.Context, content string) string {
	out, err := a.chain.Call(ctx, llm.Request{
		Prompt:    fmt.Sprintf(summaryPrompt, content),
		JSON:      true,
		MaxTokens: 150,
		Timeout:   llmTimeout,
	})
	if err != nil || out == "" {
		return ""
	}
	var parsed struct {
		Summary string `json:"summary"`
	}
	if raw := llm.ExtractJSON(out); raw != "" {
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			return strings.TrimSpace(parsed.Summary)
		}
	}
	return ""
}

// normaliseKeys accepts `["1"]`, `"1"`, or `1` and always yields a list.
func normaliseKeys(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return []string{num.String()}
	}
	return nil
}

// publish applies the stability filter and merges the analysis into the
// pane record. Returns the status actually published.
func (a *Analyzer) publish(paneID string, analysis Analysis) state.AgentStatus {
	prev := state.StatusUnknown
	if pane, ok := a.store.PaneByID(paneID); ok {
		if pane.AgentStatus != "" {
			prev = pane.AgentStatus
		}
	}

	next := a.stabilise(paneID, prev, analysis.Status)

	_, err := a.store.UpdatePane(paneID, func(p *state.Pane) {
		old := p.AgentStatus
		p.AgentStatus = next

		if old == state.StatusWaiting && next != state.StatusWaiting {
			p.OptionsQuestion = ""
			p.Options = nil
			p.PotentialHarm = nil
		}
		if old == state.StatusIdle && next != state.StatusIdle {
			p.AgentSummary = ""
		}
		if next == state.StatusWorking {
			p.AnalyzerError = ""
		}

		switch next {
		case state.StatusWaiting:
			if analysis.Status == state.StatusWaiting {
				p.OptionsQuestion = analysis.Question
				p.Options = analysis.Options
				p.PotentialHarm = analysis.Harm
			}
		case state.StatusIdle:
			if analysis.Status == state.StatusIdle && analysis.Summary != "" {
				p.AgentSummary = analysis.Summary
			}
		}
		if analysis.Err != "" {
			p.AnalyzerError = analysis.Err
		}
	})
	if err != nil && a.log != nil {
		a.log.PaneErrorf(paneID, "analyzer", "publishing status: %v", err)
	}

	if next == state.StatusWaiting && prev != state.StatusWaiting {
		a.maybeAutopilot(paneID, analysis)
	}
	return next
}

// stabilise keeps a rolling window of raw classifications and only lets the
// published status change when the last two agree.
func (a *Analyzer) stabilise(paneID string, published, raw state.AgentStatus) state.AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	window := append(a.windows[paneID], raw)
	if len(window) > stabilityWindow {
		window = window[len(window)-stabilityWindow:]
	}
	a.windows[paneID] = window

	if len(window) < 2 {
		return raw
	}
	if window[len(window)-1] == window[len(window)-2] {
		return raw
	}
	if published == state.StatusUnknown {
		return raw
	}
	return published
}

// maybeAutopilot sends the default option's keys when the pane opted in and
// the dialog carries no flagged risk.
func (a *Analyzer) maybeAutopilot(paneID string, analysis Analysis) {
	if a.keys == nil {
		return
	}
	pane, ok := a.store.PaneByID(paneID)
	if !ok || !pane.Autopilot {
		return
	}
	if analysis.Harm != nil && analysis.Harm.HasRisk {
		return
	}
	if len(analysis.Options) == 0 || len(analysis.Options[0].Keys) == 0 {
		return
	}
	if err := a.keys.SendKeys(pane.TmuxPaneID, analysis.Options[0].Keys...); err != nil {
		if a.log != nil {
			a.log.PaneErrorf(paneID, "analyzer", "autopilot send failed: %v", err)
		}
		return
	}
	if a.log != nil {
		a.log.Infof("analyzer", "autopilot selected %q on pane %s", analysis.Options[0].Action, paneID)
	}
}
