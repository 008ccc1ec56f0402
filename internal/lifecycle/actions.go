package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/atotto/clipboard"
	"github.com/google/uuid"

	"github.com/dmux-sh/dmux/internal/action"
	"github.com/dmux-sh/dmux/internal/hooks"
	"github.com/dmux-sh/dmux/internal/state"
	"github.com/dmux-sh/dmux/internal/tmux"
)

// Rename returns an input dialog pre-filled with the current slug. The new
// name becomes both the record slug and the tmux pane title.
func (c *Controller) Rename(paneID string) action.Result {
	pane, ok := c.store.PaneByID(paneID)
	if !ok {
		return action.Errorf("pane %s not found", paneID)
	}
	return action.Input("Rename pane", "New name for this pane", "", pane.Slug, func(name string) action.Result {
		name = SanitizeSlug(name)
		if name == "" {
			return action.Error("name must contain letters or digits")
		}
		found, err := c.store.UpdatePane(paneID, func(p *state.Pane) {
			p.Slug = name
		})
		if err != nil || !found {
			return action.Errorf("renaming: %v", err)
		}
		_ = c.tmux.SetPaneTitle(pane.TmuxPaneID, name)
		return action.Success(fmt.Sprintf("Renamed to %s", name))
	})
}

// Duplicate opens a sibling pane in the same worktree, on the same branch.
// Siblings block merges until closed, so this is for a second agent or a
// shell alongside the first.
func (c *Controller) Duplicate(ctx context.Context, paneID string) action.Result {
	pane, ok := c.store.PaneByID(paneID)
	if !ok {
		return action.Errorf("pane %s not found", paneID)
	}
	dir := pane.WorktreePath
	if dir == "" {
		dir = c.store.ProjectRoot()
	}
	slug := c.uniqueSlug(pane.Slug + "-copy")

	tmuxID, err := c.tmux.SplitPane(tmux.SplitOptions{
		Target:    pane.TmuxPaneID,
		Directory: dir,
	})
	if err != nil {
		return action.Errorf("duplicating: %v", err)
	}
	_ = c.tmux.SetPaneTitle(tmuxID, slug)
	if err := c.launchAgent(tmuxID, dir, pane.Agent, pane.Prompt); err != nil && c.log != nil {
		c.log.PaneErrorf(tmuxID, "lifecycle", "launching duplicate: %v", err)
	}

	sibling := state.Pane{
		ID:           uuid.NewString(),
		Slug:         slug,
		Prompt:       pane.Prompt,
		TmuxPaneID:   tmuxID,
		WorktreePath: pane.WorktreePath,
		Agent:        pane.Agent,
		AgentStatus:  state.StatusWorking,
		Autopilot:    pane.Autopilot,
	}
	_, err = c.store.MutatePanes(func(panes []state.Pane) []state.Pane {
		return append(panes, sibling)
	})
	if err != nil {
		return action.Errorf("persisting duplicate: %v", err)
	}
	c.tracker.Track(sibling.ID)
	return action.Navigation(fmt.Sprintf("Duplicated %s", pane.Slug), tmuxID)
}

// OpenInEditor opens the pane's worktree in the user's editor.
func (c *Controller) OpenInEditor(paneID string) action.Result {
	pane, ok := c.store.PaneByID(paneID)
	if !ok {
		return action.Errorf("pane %s not found", paneID)
	}
	if pane.WorktreePath == "" {
		return action.Error("pane has no worktree")
	}
	open := c.Editor
	if open == nil {
		open = defaultEditor
	}
	if err := open(pane.WorktreePath); err != nil {
		return action.Errorf("opening editor: %v", err)
	}
	return action.Info("Opened in editor")
}

func defaultEditor(path string) error {
	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		return fmt.Errorf("neither VISUAL nor EDITOR is set")
	}
	cmd := exec.Command(editor, path)
	return cmd.Start()
}

// CopyPath puts the worktree path on the clipboard.
func (c *Controller) CopyPath(paneID string) action.Result {
	pane, ok := c.store.PaneByID(paneID)
	if !ok {
		return action.Errorf("pane %s not found", paneID)
	}
	if pane.WorktreePath == "" {
		return action.Error("pane has no worktree")
	}
	copyText := c.Clipboard
	if copyText == nil {
		copyText = clipboard.WriteAll
	}
	if err := copyText(pane.WorktreePath); err != nil {
		return action.Errorf("copying path: %v", err)
	}
	return action.Success(pane.WorktreePath)
}

// ToggleAutopilot flips the pane's autopilot flag.
func (c *Controller) ToggleAutopilot(paneID string) action.Result {
	var enabled bool
	found, err := c.store.UpdatePane(paneID, func(p *state.Pane) {
		p.Autopilot = !p.Autopilot
		enabled = p.Autopilot
	})
	if err != nil || !found {
		return action.Errorf("toggling autopilot: %v", err)
	}
	if enabled {
		return action.Success("Autopilot enabled")
	}
	return action.Success("Autopilot disabled")
}

// RunTests fires the run_test hook for the pane's worktree. The hook runs
// detached and reports back through PUT /api/panes/{id}/test.
func (c *Controller) RunTests(paneID string) action.Result {
	return c.runHookAction(paneID, hooks.HookRunTest, func(p *state.Pane) {
		p.TestStatus = state.TestRunning
	}, "Running tests")
}

// RunDev fires the run_dev hook for the pane's worktree. The hook reports
// the dev server URL through PUT /api/panes/{id}/dev.
func (c *Controller) RunDev(paneID string) action.Result {
	return c.runHookAction(paneID, hooks.HookRunDev, func(p *state.Pane) {
		p.DevStatus = state.DevRunning
	}, "Starting dev server")
}

func (c *Controller) runHookAction(paneID, hook string, mark func(*state.Pane), message string) action.Result {
	pane, ok := c.store.PaneByID(paneID)
	if !ok {
		return action.Errorf("pane %s not found", paneID)
	}
	if pane.WorktreePath == "" {
		return action.Error("pane has no worktree")
	}
	if path, err := c.hooks.Resolve(hook); err != nil || path == "" {
		return action.Errorf("no %s hook installed; run `dmux hooks init`", hook)
	}
	if _, err := c.store.UpdatePane(paneID, mark); err != nil {
		return action.Errorf("recording %s: %v", hook, err)
	}
	c.hooks.Trigger(hook, c.hookEnv(pane))
	return action.Info(message)
}

// FocusPane selects the pane in tmux.
func (c *Controller) FocusPane(paneID string) action.Result {
	pane, ok := c.store.PaneByID(paneID)
	if !ok {
		return action.Errorf("pane %s not found", paneID)
	}
	if err := c.tmux.SelectPane(pane.TmuxPaneID); err != nil {
		return action.Errorf("focusing pane: %v", err)
	}
	return action.Navigation("", pane.TmuxPaneID)
}
