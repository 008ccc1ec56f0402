// Package merge lands a pane's feature branch on the main branch. A merge
// is two-phase: validation finds everything that would make the merge messy
// (dirty trees, conflicts, siblings) and resolves each through a dialog,
// then execution runs the actual git work with the main branch dirty for as
// short a window as possible.
package merge

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dmux-sh/dmux/internal/action"
	"github.com/dmux-sh/dmux/internal/config"
	"github.com/dmux-sh/dmux/internal/git"
	"github.com/dmux-sh/dmux/internal/hooks"
	"github.com/dmux-sh/dmux/internal/lifecycle"
	"github.com/dmux-sh/dmux/internal/llm"
	"github.com/dmux-sh/dmux/internal/logring"
	"github.com/dmux-sh/dmux/internal/state"
	"github.com/dmux-sh/dmux/internal/tmux"
)

// Issue is one validation finding.
type Issue string

const (
	IssueNone                Issue = ""
	IssueNothingToMerge      Issue = "nothing_to_merge"
	IssueMainDirty           Issue = "main_dirty"
	IssueWorktreeUncommitted Issue = "worktree_uncommitted"
	IssueMergeConflict       Issue = "merge_conflict"
)

// Dialog option ids.
const (
	optCommitAutomatic  = "commit_automatic"
	optCommitAIEditable = "commit_ai_editable"
	optCommitManual     = "commit_manual"
	optStashMain        = "stash_main"
	optAIMerge          = "ai_merge"
	optManualMerge      = "manual_merge"
	optCancel           = "cancel"
)

// GitOps is the git surface the engine drives.
type GitOps interface {
	AheadCount(path, base, branch string) (int, error)
	IsDirty(path string) (bool, error)
	ConflictFiles(path, ref string) ([]string, error)
	Merge(ctx context.Context, path, ref string, opts git.MergeOptions) error
	MergeAbort(path string) error
	MergeInProgress(path string) bool
	Checkout(path, ref string) error
	StageAll(path string) error
	Commit(path, message string) error
	Stash(path string) error
	Diff(path string, cached bool) (string, error)
	CurrentBranch(path string) (string, error)
	MainBranch() (string, error)
	SubWorktrees(path string) ([]git.Worktree, error)
}

// TmuxOps is the tmux surface, used for the conflict-resolution pane.
type TmuxOps interface {
	SplitPane(opts tmux.SplitOptions) (string, error)
	SetPaneTitle(paneID, title string) error
	SelectPane(paneID string) error
	SendShellCommand(paneID, command string) error
}

// Closer delegates post-merge cleanup to the lifecycle controller.
type Closer interface {
	ExecuteClose(paneID, mode string) error
}

// Engine runs merges for one project.
type Engine struct {
	git     GitOps
	tmux    TmuxOps
	store   *state.Store
	chain   *llm.Chain
	hooks   *hooks.Runner
	closer  Closer
	log     *logring.Ring
	toolCfg config.ToolConfig
}

// New builds a merge engine.
func New(g GitOps, t TmuxOps, store *state.Store, chain *llm.Chain, hookRunner *hooks.Runner, closer Closer, log *logring.Ring, toolCfg config.ToolConfig) *Engine {
	return &Engine{
		git:     g,
		tmux:    t,
		store:   store,
		chain:   chain,
		hooks:   hookRunner,
		closer:  closer,
		log:     log,
		toolCfg: toolCfg,
	}
}

// Merge starts (or restarts) the merge flow for a pane. Each resolved
// precondition re-enters here so validation always runs against the current
// tree state.
func (e *Engine) Merge(ctx context.Context, paneID, target string) action.Result {
	pane, ok := e.store.PaneByID(paneID)
	if !ok {
		return action.Errorf("pane %s not found", paneID)
	}
	if pane.WorktreePath == "" {
		return action.Error("pane has no worktree to merge")
	}
	if target == "" {
		detected, err := e.git.MainBranch()
		if err != nil {
			return action.Errorf("detecting main branch: %v", err)
		}
		target = detected
	}
	branch, err := e.git.CurrentBranch(pane.WorktreePath)
	if err != nil {
		return action.Errorf("reading feature branch: %v", err)
	}

	if siblings := e.siblings(pane); len(siblings) > 0 {
		return e.confirmSiblingClose(ctx, pane, siblings, target)
	}

	issue, err := e.Validate(pane, target, branch)
	if err != nil {
		return action.Errorf("validating merge: %v", err)
	}
	switch issue {
	case IssueNothingToMerge:
		return action.Info(fmt.Sprintf("%s has no commits ahead of %s", branch, target))
	case IssueMainDirty:
		return e.resolveDirty(ctx, pane, target, e.store.ProjectRoot(), true)
	case IssueWorktreeUncommitted:
		return e.resolveDirty(ctx, pane, target, pane.WorktreePath, false)
	case IssueMergeConflict:
		return e.resolveConflict(ctx, pane, target, branch)
	}

	return action.Confirm(
		fmt.Sprintf("Merge %s into %s?", branch, target),
		fmt.Sprintf("The branch will be merged and %s checked out in the main repo.", target),
		func() action.Result { return e.Execute(ctx, pane, target, branch) },
	)
}

// Validate reports the first blocking issue, in the order callers can fix
// them.
func (e *Engine) Validate(pane state.Pane, target, branch string) (Issue, error) {
	root := e.store.ProjectRoot()

	ahead, err := e.git.AheadCount(root, target, branch)
	if err != nil {
		return IssueNone, err
	}
	if ahead == 0 {
		return IssueNothingToMerge, nil
	}

	dirty, err := e.git.IsDirty(root)
	if err != nil {
		return IssueNone, err
	}
	if dirty {
		return IssueMainDirty, nil
	}

	dirty, err = e.git.IsDirty(pane.WorktreePath)
	if err != nil {
		return IssueNone, err
	}
	if dirty {
		return IssueWorktreeUncommitted, nil
	}

	conflicts, err := e.git.ConflictFiles(root, branch)
	if err != nil {
		return IssueNone, err
	}
	if len(conflicts) > 0 {
		return IssueMergeConflict, nil
	}
	return IssueNone, nil
}

// siblings lists other panes sharing the worktree.
func (e *Engine) siblings(pane state.Pane) []state.Pane {
	var out []state.Pane
	for _, p := range e.store.Panes() {
		if p.ID != pane.ID && p.WorktreePath != "" && p.WorktreePath == pane.WorktreePath {
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) confirmSiblingClose(ctx context.Context, pane state.Pane, siblings []state.Pane, target string) action.Result {
	names := make([]string, len(siblings))
	for i, s := range siblings {
		names[i] = s.Slug
	}
	return action.Confirm(
		"Close sibling panes?",
		fmt.Sprintf("%s shares its worktree with %s. They must close before merging.",
			pane.Slug, strings.Join(names, ", ")),
		func() action.Result {
			for _, s := range siblings {
				if err := e.closer.ExecuteClose(s.ID, lifecycle.CloseKillOnly); err != nil {
					return action.Errorf("closing %s: %v", s.Slug, err)
				}
			}
			// Settle the projection before re-entering, or the sibling
			// check would still see the records just removed.
			if err := e.store.Reload(); err != nil && e.log != nil {
				e.log.Warnf("merge", "reloading state after sibling close: %v", err)
			}
			return e.Merge(ctx, pane.ID, target)
		},
	)
}

// resolveDirty handles main_dirty and worktree_uncommitted. The stash escape
// hatch only makes sense for the main checkout.
func (e *Engine) resolveDirty(ctx context.Context, pane state.Pane, target, dirtyPath string, isMain bool) action.Result {
	where := "feature worktree"
	if isMain {
		where = "main checkout"
	}
	options := []action.ChoiceOption{
		{ID: optCommitAutomatic, Label: "Commit with a generated message", Default: true},
		{ID: optCommitAIEditable, Label: "Generate a message, let me edit it"},
		{ID: optCommitManual, Label: "Commit with my own message"},
	}
	if isMain {
		options = append(options, action.ChoiceOption{ID: optStashMain, Label: "Stash main's changes"})
	}
	options = append(options, action.ChoiceOption{ID: optCancel, Label: "Cancel"})

	return action.Choice(
		fmt.Sprintf("Uncommitted changes in the %s", where),
		"The merge needs a clean tree there first.",
		options,
		func(choice string) action.Result {
			switch choice {
			case optCancel:
				return action.None
			case optStashMain:
				if err := e.git.Stash(dirtyPath); err != nil {
					return action.Errorf("stashing: %v", err)
				}
				return e.Merge(ctx, pane.ID, target)
			case optCommitAutomatic:
				message, err := e.generateCommitMessage(ctx, dirtyPath)
				if err != nil {
					// Model miss: fall through to a manual message.
					return e.manualCommitInput(ctx, pane, target, dirtyPath, "")
				}
				return e.commitAndContinue(ctx, pane, target, dirtyPath, message)
			case optCommitAIEditable:
				message, err := e.generateCommitMessage(ctx, dirtyPath)
				if err != nil {
					message = ""
				}
				return e.manualCommitInput(ctx, pane, target, dirtyPath, message)
			case optCommitManual:
				return e.manualCommitInput(ctx, pane, target, dirtyPath, "")
			}
			return action.None
		},
	)
}

func (e *Engine) manualCommitInput(ctx context.Context, pane state.Pane, target, dirtyPath, prefill string) action.Result {
	return action.Input("Commit message", "Describe the uncommitted changes", "feat: ...", prefill,
		func(message string) action.Result {
			if strings.TrimSpace(message) == "" {
				return action.Error("commit message must not be empty")
			}
			return e.commitAndContinue(ctx, pane, target, dirtyPath, message)
		})
}

func (e *Engine) commitAndContinue(ctx context.Context, pane state.Pane, target, dirtyPath, message string) action.Result {
	if err := e.git.StageAll(dirtyPath); err != nil {
		return action.Errorf("staging: %v", err)
	}
	if err := e.git.Commit(dirtyPath, message); err != nil {
		return action.Errorf("committing: %v", err)
	}
	return e.Merge(ctx, pane.ID, target)
}

// resolveConflict offers the AI conflict pane or manual navigation.
func (e *Engine) resolveConflict(ctx context.Context, pane state.Pane, target, branch string) action.Result {
	return action.Choice(
		"Merge conflict",
		fmt.Sprintf("%s conflicts with %s.", branch, target),
		[]action.ChoiceOption{
			{ID: optAIMerge, Label: "Let an agent resolve it", Default: true},
			{ID: optManualMerge, Label: "Resolve it myself"},
			{ID: optCancel, Label: "Cancel"},
		},
		func(choice string) action.Result {
			switch choice {
			case optAIMerge:
				return e.spawnConflictPane(ctx, pane, target, branch)
			case optManualMerge:
				return action.Navigation("Resolve the conflict in the worktree, then merge again.", pane.TmuxPaneID)
			}
			return action.None
		},
	)
}

// spawnConflictPane reproduces the conflict markers in the main checkout and
// puts an agent in front of them.
func (e *Engine) spawnConflictPane(ctx context.Context, pane state.Pane, target, branch string) action.Result {
	root := e.store.ProjectRoot()
	if e.git.MergeInProgress(root) {
		if err := e.git.MergeAbort(root); err != nil {
			return action.Errorf("aborting stale merge: %v", err)
		}
	}
	if err := e.git.Checkout(root, target); err != nil {
		return action.Errorf("checking out %s: %v", target, err)
	}
	// Expected to fail with conflicts; the markers are the point.
	mergeErr := e.git.Merge(ctx, root, branch, git.MergeOptions{NoEdit: true})
	if mergeErr == nil {
		// The conflict resolved itself (e.g. the user already fixed it).
		return e.Finalise(ctx, pane, target, branch)
	}

	paneID, err := e.tmux.SplitPane(tmux.SplitOptions{Target: pane.TmuxPaneID, Directory: root})
	if err != nil {
		return action.Errorf("opening conflict pane: %v", err)
	}
	_ = e.tmux.SetPaneTitle(paneID, "merge-"+pane.Slug)

	agent := pane.Agent
	if agent == "" {
		agent = config.AgentClaude
	}
	command := e.toolCfg.CommandFor(agent)
	prompt := fmt.Sprintf(conflictPrompt, branch, target)
	if err := e.tmux.SendShellCommand(paneID, command+" "+shellQuote(prompt)); err != nil {
		return action.Errorf("launching conflict agent: %v", err)
	}
	_ = e.tmux.SelectPane(paneID)
	return action.Navigation("An agent is resolving the conflict.", paneID)
}

// Execute is phase 2: hooks, worktree sync, the real merge, cleanup offer.
func (e *Engine) Execute(ctx context.Context, pane state.Pane, target, branch string) action.Result {
	root := e.store.ProjectRoot()
	env := e.hookEnv(pane, branch, target)

	if err := e.hooks.TriggerSync(ctx, hooks.HookPreMerge, env, hooks.MergeSyncTimeout); err != nil {
		return action.Errorf("pre_merge hook: %v", err)
	}

	// Sub-worktrees created by hooks merge leaves-first into the feature
	// branch before the feature lands on target.
	subs, err := e.git.SubWorktrees(pane.WorktreePath)
	if err == nil && len(subs) > 0 {
		for _, sub := range OrderLeavesFirst(subs) {
			if sub.Branch == "" {
				continue
			}
			if err := e.git.Merge(ctx, pane.WorktreePath, sub.Branch, git.MergeOptions{NoEdit: true}); err != nil {
				return action.Errorf("merging sub-worktree %s: %v", sub.Branch, err)
			}
		}
	}

	// Bring the worktree up to date with target first, so the final merge
	// into target is fast-forward-clean.
	if err := e.git.Merge(ctx, pane.WorktreePath, target, git.MergeOptions{NoEdit: true}); err != nil {
		return action.Result{
			Kind:         action.KindNavigation,
			Message:      fmt.Sprintf("Merging %s into the worktree hit conflicts: %v", target, err),
			TargetPaneID: pane.TmuxPaneID,
		}
	}

	if err := e.git.Checkout(root, target); err != nil {
		return action.Errorf("checking out %s: %v", target, err)
	}
	if err := e.git.Merge(ctx, root, branch, git.MergeOptions{NoEdit: true}); err != nil {
		return action.Errorf("merging %s: %v", branch, err)
	}

	return e.Finalise(ctx, pane, target, branch)
}

// Finalise offers cleanup and fires the post-merge hook.
func (e *Engine) Finalise(ctx context.Context, pane state.Pane, target, branch string) action.Result {
	e.hooks.Trigger(hooks.HookPostMerge, e.hookEnv(pane, branch, target))
	if e.log != nil {
		e.log.Infof("merge", "merged %s into %s", branch, target)
	}
	return action.Confirm(
		"Merged. Clean up?",
		fmt.Sprintf("Remove the worktree and branch %s and close the pane.", branch),
		func() action.Result {
			if err := e.closer.ExecuteClose(pane.ID, lifecycle.CloseKillCleanBranch); err != nil {
				return action.Errorf("cleaning up: %v", err)
			}
			return action.Success(fmt.Sprintf("Merged %s into %s", branch, target))
		},
	)
}

func (e *Engine) hookEnv(pane state.Pane, branch, target string) hooks.Env {
	return hooks.Env{
		Root:         e.store.ProjectRoot(),
		PaneID:       pane.ID,
		Slug:         pane.Slug,
		Prompt:       pane.Prompt,
		Agent:        string(pane.Agent),
		TmuxPaneID:   pane.TmuxPaneID,
		WorktreePath: pane.WorktreePath,
		Branch:       branch,
		TargetBranch: target,
	}
}

// OrderLeavesFirst sorts worktrees so the deepest paths come first. Merging
// leaves before their parents keeps nested hook-created worktrees coherent.
func OrderLeavesFirst(worktrees []git.Worktree) []git.Worktree {
	out := append([]git.Worktree(nil), worktrees...)
	sort.SliceStable(out, func(i, j int) bool {
		di := strings.Count(out[i].Path, "/")
		dj := strings.Count(out[j].Path, "/")
		if di != dj {
			return di > dj
		}
		return out[i].Path < out[j].Path
	})
	return out
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
