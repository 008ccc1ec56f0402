package lifecycle

import (
	"fmt"
	"strings"

	"github.com/dmux-sh/dmux/internal/action"
	"github.com/dmux-sh/dmux/internal/hooks"
	"github.com/dmux-sh/dmux/internal/state"
)

// Close modes.
const (
	CloseKillOnly        = "kill_only"
	CloseKillAndClean    = "kill_and_clean"
	CloseKillCleanBranch = "kill_clean_branch"
	closeCancel          = "cancel"
)

// ClosePane returns the close dialog for a pane. Worktree cleanup options
// only appear when there is a worktree to clean.
func (c *Controller) ClosePane(paneID string) action.Result {
	pane, ok := c.store.PaneByID(paneID)
	if !ok {
		return action.Errorf("pane %s not found", paneID)
	}

	options := []action.ChoiceOption{
		{ID: CloseKillOnly, Label: "Close pane", Description: "Keep the worktree and branch", Default: true},
	}
	if pane.HasWorktree() {
		options = append(options,
			action.ChoiceOption{ID: CloseKillAndClean, Label: "Close and remove worktree"},
			action.ChoiceOption{ID: CloseKillCleanBranch, Label: "Close, remove worktree and delete branch", Danger: true},
		)
	}
	options = append(options, action.ChoiceOption{ID: closeCancel, Label: "Cancel"})

	return action.Choice(
		fmt.Sprintf("Close %s?", pane.Slug),
		"The agent in this pane will be killed.",
		options,
		func(choice string) action.Result {
			if choice == closeCancel {
				return action.None
			}
			if err := c.ExecuteClose(paneID, choice); err != nil {
				return action.Errorf("closing %s: %v", pane.Slug, err)
			}
			return action.Success(fmt.Sprintf("Closed %s", pane.Slug))
		},
	)
}

// ExecuteClose performs the teardown for one close mode. Every step
// tolerates "already gone" so a half-dead pane can still be cleaned up.
func (c *Controller) ExecuteClose(paneID, mode string) error {
	pane, ok := c.store.PaneByID(paneID)
	if !ok {
		return fmt.Errorf("pane %s not found", paneID)
	}

	// The lock keeps reconciliation from double-removing the record while
	// the tmux pane disappears under the event bus.
	c.store.LockClose(paneID)
	defer c.store.UnlockClose(paneID)

	c.hooks.Trigger(hooks.HookBeforePaneClose, c.hookEnv(pane))
	c.tracker.Untrack(paneID)

	if err := c.tmux.KillPane(pane.TmuxPaneID); err != nil {
		if c.log != nil {
			c.log.Warnf("lifecycle", "killing pane %s: %v", pane.TmuxPaneID, err)
		}
	}

	if mode == CloseKillAndClean || mode == CloseKillCleanBranch {
		if pane.WorktreePath != "" {
			branch := c.branchFor(pane)
			if err := c.git.WorktreeRemove(pane.WorktreePath, true); err != nil && !alreadyAbsent(err) {
				return fmt.Errorf("removing worktree: %w", err)
			}
			if mode == CloseKillCleanBranch && branch != "" {
				if err := c.git.BranchDelete(branch, true); err != nil && !alreadyAbsent(err) && c.log != nil {
					c.log.Warnf("lifecycle", "deleting branch %s: %v", branch, err)
				}
			}
		}
	}

	cf, err := c.store.MutatePanes(func(panes []state.Pane) []state.Pane {
		out := panes[:0]
		for _, p := range panes {
			if p.ID != paneID {
				out = append(out, p)
			}
		}
		return out
	})
	if err != nil {
		return fmt.Errorf("removing pane record: %w", err)
	}
	if c.log != nil {
		c.log.ClearForPane(pane.TmuxPaneID)
	}

	c.hooks.Trigger(hooks.HookPaneClosed, c.hookEnv(pane))
	c.ensureWelcomePane(cf)
	return nil
}

func alreadyAbsent(err error) bool {
	if err == nil {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not a working tree") ||
		strings.Contains(msg, "no such file") ||
		strings.Contains(msg, "is not a valid") ||
		strings.Contains(msg, "not found")
}
