// Package state holds the process-wide store backed by the project config
// file. The config file is the single authoritative pane list; every
// in-memory copy is a projection of it.
package state

import (
	"time"

	"github.com/dmux-sh/dmux/internal/config"
)

// AgentStatus is the analyzer-published state of a pane's agent.
type AgentStatus string

const (
	StatusWorking AgentStatus = "working"
	StatusWaiting AgentStatus = "waiting"
	StatusIdle    AgentStatus = "idle"
	StatusUnknown AgentStatus = "unknown"
)

// TestStatus tracks hook-reported test runs.
type TestStatus string

const (
	TestRunning TestStatus = "running"
	TestPassed  TestStatus = "passed"
	TestFailed  TestStatus = "failed"
)

// DevStatus tracks hook-reported dev servers.
type DevStatus string

const (
	DevRunning DevStatus = "running"
	DevStopped DevStatus = "stopped"
)

// Option is one choice in an agent option dialog.
type Option struct {
	Action      string   `json:"action"`
	Keys        []string `json:"keys"`
	Description string   `json:"description,omitempty"`
}

// PotentialHarm is the analyzer's risk assessment of an option dialog.
type PotentialHarm struct {
	HasRisk     bool   `json:"hasRisk"`
	Description string `json:"description,omitempty"`
}

// Pane is the central record: one tmux pane, optionally bound to a worktree
// and an agent.
type Pane struct {
	ID           string       `json:"id"`
	Slug         string       `json:"slug"`
	Prompt       string       `json:"prompt,omitempty"`
	TmuxPaneID   string       `json:"tmuxPaneId"`
	WorktreePath string       `json:"worktreePath,omitempty"`
	Agent        config.Agent `json:"agent,omitempty"`
	AgentStatus  AgentStatus  `json:"agentStatus,omitempty"`

	// Analyzer fields, present only in the matching status.
	OptionsQuestion string         `json:"optionsQuestion,omitempty"`
	Options         []Option       `json:"options,omitempty"`
	PotentialHarm   *PotentialHarm `json:"potentialHarm,omitempty"`
	AgentSummary    string         `json:"agentSummary,omitempty"`
	AnalyzerError   string         `json:"analyzerError,omitempty"`

	// Lifecycle fields driven by user hooks.
	TestStatus TestStatus `json:"testStatus,omitempty"`
	DevStatus  DevStatus  `json:"devStatus,omitempty"`
	DevURL     string     `json:"devUrl,omitempty"`
	PRNumber   int        `json:"prNumber,omitempty"`
	PRURL      string     `json:"prUrl,omitempty"`
	PRStatus   string     `json:"prStatus,omitempty"`

	Autopilot bool `json:"autopilot,omitempty"`
}

// HasWorktree reports whether the pane owns a git worktree (false for shell
// and terminal panes).
func (p Pane) HasWorktree() bool {
	return p.WorktreePath != ""
}

// ConfigFile is the on-disk shape of dmux.config.json.
type ConfigFile struct {
	Panes         []Pane `json:"panes"`
	ControlPaneID string `json:"controlPaneId,omitempty"`
	WelcomePaneID string `json:"welcomePaneId,omitempty"`
	LastUpdated   string `json:"lastUpdated,omitempty"`
}

// Snapshot is the cloned view handed to subscribers. Subscribers never see
// live store internals.
type Snapshot struct {
	Panes         []Pane
	ControlPaneID string
	WelcomePaneID string
	Settings      config.Settings
	ProjectRoot   string
	ProjectName   string
	SessionName   string
	ServerPort    int
	ServerURL     string
	At            time.Time
}

// PaneByID finds a pane in the snapshot.
func (s Snapshot) PaneByID(id string) (Pane, bool) {
	for _, p := range s.Panes {
		if p.ID == id {
			return p, true
		}
	}
	return Pane{}, false
}

func clonePanes(panes []Pane) []Pane {
	out := make([]Pane, len(panes))
	copy(out, panes)
	for i := range out {
		if len(out[i].Options) > 0 {
			opts := make([]Option, len(out[i].Options))
			copy(opts, out[i].Options)
			for j := range opts {
				keys := make([]string, len(opts[j].Keys))
				copy(keys, opts[j].Keys)
				opts[j].Keys = keys
			}
			out[i].Options = opts
		}
		if out[i].PotentialHarm != nil {
			harm := *out[i].PotentialHarm
			out[i].PotentialHarm = &harm
		}
	}
	return out
}
