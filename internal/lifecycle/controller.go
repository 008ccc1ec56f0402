// Package lifecycle creates, closes and reconciles agent panes. It owns the
// mapping between tmux panes and stored records; the event bus only reports
// raw pane membership, and everything record-shaped happens here.
package lifecycle

import (
	"context"

	"github.com/dmux-sh/dmux/internal/config"
	"github.com/dmux-sh/dmux/internal/events"
	"github.com/dmux-sh/dmux/internal/hooks"
	"github.com/dmux-sh/dmux/internal/llm"
	"github.com/dmux-sh/dmux/internal/logring"
	"github.com/dmux-sh/dmux/internal/state"
	"github.com/dmux-sh/dmux/internal/tmux"
)

// TmuxOps is the slice of the tmux adapter the controller drives.
type TmuxOps interface {
	SplitPane(opts tmux.SplitOptions) (string, error)
	KillPane(paneID string) error
	SetPaneTitle(paneID, title string) error
	SelectPane(paneID string) error
	SendShellCommand(paneID, command string) error
	SendKeys(paneID string, keys ...string) error
	CapturePane(paneID string, lastN int) (string, error)
	ListPanes(session string) ([]tmux.PaneInfo, error)
}

// GitOps is the slice of the git adapter the controller needs for worktree
// lifecycle. Merge-time operations live in the merge package.
type GitOps interface {
	WorktreeAdd(ctx context.Context, path, branch, base string) error
	WorktreeRemove(path string, force bool) error
	BranchDelete(name string, force bool) error
	MainBranch() (string, error)
	CurrentBranch(path string) (string, error)
}

// Tracker starts and stops per-pane analysis. Satisfied by the analyzer.
type Tracker interface {
	Track(paneID string)
	Untrack(paneID string)
}

// Controller wires pane lifecycle to tmux, git and the state store.
type Controller struct {
	tmux    TmuxOps
	git     GitOps
	store   *state.Store
	chain   *llm.Chain
	hooks   *hooks.Runner
	tracker Tracker
	log     *logring.Ring

	session    string
	toolCfg    config.ToolConfig
	serverPort int

	// Editor opens a path in the user's editor; overridable for tests.
	Editor func(path string) error
	// Clipboard copies text; defaults to the system clipboard.
	Clipboard func(text string) error
}

// New builds a controller.
func New(t TmuxOps, g GitOps, store *state.Store, chain *llm.Chain, hookRunner *hooks.Runner, tracker Tracker, log *logring.Ring, sessionName string, toolCfg config.ToolConfig) *Controller {
	return &Controller{
		tmux:    t,
		git:     g,
		store:   store,
		chain:   chain,
		hooks:   hookRunner,
		tracker: tracker,
		log:     log,
		session: sessionName,
		toolCfg: toolCfg,
	}
}

// SetServerPort records the HTTP port for hook environments.
func (c *Controller) SetServerPort(port int) { c.serverPort = port }

func (c *Controller) hookEnv(pane state.Pane) hooks.Env {
	return hooks.Env{
		Root:         c.store.ProjectRoot(),
		ServerPort:   c.serverPort,
		PaneID:       pane.ID,
		Slug:         pane.Slug,
		Prompt:       pane.Prompt,
		Agent:        string(pane.Agent),
		TmuxPaneID:   pane.TmuxPaneID,
		WorktreePath: pane.WorktreePath,
		Branch:       c.branchFor(pane),
	}
}

func (c *Controller) branchFor(pane state.Pane) string {
	if pane.WorktreePath == "" {
		return ""
	}
	branch, err := c.git.CurrentBranch(pane.WorktreePath)
	if err != nil {
		return ""
	}
	return branch
}

// HandleEvent reconciles a panes-changed notification against the stored
// records. Panes that vanished outside dmux (user typed exit, agent crashed)
// lose their record; close-locked panes are mid-teardown and skipped.
func (c *Controller) HandleEvent(ev events.Event) {
	if len(ev.RemovedIDs) == 0 {
		return
	}
	removed := make(map[string]bool, len(ev.RemovedIDs))
	for _, id := range ev.RemovedIDs {
		removed[id] = true
	}

	// The filter runs against the file contents, not the projection: an
	// event can arrive before the watcher has applied the write that added
	// or removed the pane it refers to.
	var gone []state.Pane
	cf, err := c.store.MutatePanes(func(panes []state.Pane) []state.Pane {
		gone = gone[:0]
		out := panes[:0]
		for _, p := range panes {
			if removed[p.TmuxPaneID] && !c.store.IsClosing(p.ID) {
				gone = append(gone, p)
				continue
			}
			out = append(out, p)
		}
		return out
	})
	if err != nil {
		if c.log != nil {
			c.log.Errorf("lifecycle", "persisting reconciliation: %v", err)
		}
		return
	}
	if len(gone) == 0 {
		return
	}

	for _, pane := range gone {
		c.tracker.Untrack(pane.ID)
		if c.log != nil {
			c.log.Infof("lifecycle", "pane %s (%s) disappeared, removing record", pane.Slug, pane.TmuxPaneID)
			c.log.ClearForPane(pane.TmuxPaneID)
		}
	}
	c.ensureWelcomePane(cf)
}

// ensureWelcomePane recreates the welcome pane when the working set empties,
// so the session never collapses to a lone control pane. It decides from the
// config file as just written, because the projection lags mutations by the
// watcher debounce.
func (c *Controller) ensureWelcomePane(cf state.ConfigFile) {
	if len(cf.Panes) > 0 {
		return
	}
	if cf.WelcomePaneID != "" {
		return
	}
	control := cf.ControlPaneID
	if control == "" {
		return
	}
	paneID, err := c.tmux.SplitPane(tmux.SplitOptions{
		Target:     control,
		Horizontal: true,
		Directory:  c.store.ProjectRoot(),
		Detached:   true,
	})
	if err != nil {
		if c.log != nil {
			c.log.Warnf("lifecycle", "recreating welcome pane: %v", err)
		}
		return
	}
	_ = c.tmux.SetPaneTitle(paneID, "welcome")
	if err := c.store.SetWelcomePane(paneID); err != nil && c.log != nil {
		c.log.Warnf("lifecycle", "persisting welcome pane: %v", err)
	}
}
