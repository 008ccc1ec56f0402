package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmux-sh/dmux/internal/config"
	"github.com/dmux-sh/dmux/internal/git"
	"github.com/dmux-sh/dmux/internal/hooks"
	"github.com/dmux-sh/dmux/internal/state"
	"github.com/dmux-sh/dmux/internal/tmux"
)

// Trust-prompt handling bounds.
const (
	trustPollInterval = 500 * time.Millisecond
	trustPollWindow   = 10 * time.Second
	trustCaptureLines = 30
)

// trustPatterns are first-launch confirmations agents print before doing
// anything. Matching is case-insensitive substring.
var trustPatterns = []string{
	"do you trust the files",
	"trust the files in this folder",
	"yes, proceed",
	"trust this folder",
	"allow this project",
}

// CreateOptions describes one pane creation.
type CreateOptions struct {
	Prompt    string
	Agent     string // empty means auto-select
	Autopilot *bool  // nil means the settings default
	// slug overrides generation; used by A/B pair creation.
	slug string
}

// CreateResult is the outcome. When several agents are installed and none
// was requested, NeedsAgentChoice is set instead of a pane.
type CreateResult struct {
	NeedsAgentChoice bool
	AvailableAgents  []config.Agent
	Pane             *state.Pane
}

// Create provisions a worktree, splits a pane and launches the agent in it.
func (c *Controller) Create(ctx context.Context, opts CreateOptions) (CreateResult, error) {
	agent, choice, err := c.selectAgent(opts.Agent)
	if err != nil {
		return CreateResult{}, err
	}
	if choice != nil {
		return CreateResult{NeedsAgentChoice: true, AvailableAgents: choice}, nil
	}

	slug := opts.slug
	if slug == "" {
		slug = GenerateSlug(ctx, c.chain, opts.Prompt)
	}
	slug = c.uniqueSlug(slug)

	settings := c.store.Settings()
	branch := settings.BranchPrefix + slug
	if err := git.ValidateBranchName(branch); err != nil {
		return CreateResult{}, fmt.Errorf("derived branch %q is invalid: %w", branch, err)
	}

	worktreePath := filepath.Join(config.WorktreesDir(c.store.ProjectRoot()), slug)
	base := settings.BaseBranch
	if base == "" {
		if detected, err := c.git.MainBranch(); err == nil {
			base = detected
		}
	}
	if err := c.git.WorktreeAdd(ctx, worktreePath, branch, base); err != nil {
		return CreateResult{}, fmt.Errorf("creating worktree: %w", err)
	}

	target := c.store.ControlPaneID()
	paneID, err := c.tmux.SplitPane(tmux.SplitOptions{
		Target:    target,
		Directory: worktreePath,
	})
	if err != nil {
		// Roll the worktree back so a tmux failure doesn't strand a branch.
		_ = c.git.WorktreeRemove(worktreePath, true)
		_ = c.git.BranchDelete(branch, true)
		return CreateResult{}, fmt.Errorf("splitting pane: %w", err)
	}
	_ = c.tmux.SetPaneTitle(paneID, slug)

	if err := c.launchAgent(paneID, worktreePath, agent, opts.Prompt); err != nil {
		if c.log != nil {
			c.log.PaneErrorf(paneID, "lifecycle", "launching %s: %v", agent, err)
		}
	}
	go c.approveTrustPrompt(paneID)

	autopilot := settings.EnableAutopilotByDefault
	if opts.Autopilot != nil {
		autopilot = *opts.Autopilot
	}
	pane := state.Pane{
		ID:           uuid.NewString(),
		Slug:         slug,
		Prompt:       opts.Prompt,
		TmuxPaneID:   paneID,
		WorktreePath: worktreePath,
		Agent:        agent,
		AgentStatus:  state.StatusWorking,
		Autopilot:    autopilot,
	}
	_, err = c.store.MutatePanes(func(panes []state.Pane) []state.Pane {
		return append(panes, pane)
	})
	if err != nil {
		return CreateResult{}, fmt.Errorf("persisting pane record: %w", err)
	}

	c.tracker.Track(pane.ID)
	c.hooks.Trigger(hooks.HookWorktreeCreated, c.hookEnv(pane))
	if c.log != nil {
		c.log.Infof("lifecycle", "created pane %s (%s) on branch %s", slug, paneID, branch)
	}
	return CreateResult{Pane: &pane}, nil
}

// CreatePair runs an A/B creation: one shared slug base, one pane per agent,
// each suffixed so the branches stay distinct.
func (c *Controller) CreatePair(ctx context.Context, prompt string, agentA, agentB config.Agent) ([]state.Pane, error) {
	base := GenerateSlug(ctx, c.chain, prompt)
	var out []state.Pane
	for _, agent := range []config.Agent{agentA, agentB} {
		res, err := c.Create(ctx, CreateOptions{
			Prompt: prompt,
			Agent:  string(agent),
			slug:   base + agent.SlugSuffix(),
		})
		if err != nil {
			return out, err
		}
		out = append(out, *res.Pane)
	}
	return out, nil
}

func (c *Controller) selectAgent(requested string) (config.Agent, []config.Agent, error) {
	if requested != "" {
		agent, err := config.ParseAgent(requested)
		if err != nil {
			return "", nil, err
		}
		return agent, nil, nil
	}
	if def := c.store.Settings().DefaultAgent; def != "" {
		if agent, err := config.ParseAgent(def); err == nil && agent.IsInstalled() {
			return agent, nil, nil
		}
	}
	installed := config.InstalledAgents()
	switch len(installed) {
	case 0:
		return "", nil, fmt.Errorf("no supported agent CLI found on PATH (claude, opencode, codex)")
	case 1:
		return installed[0], nil, nil
	}
	return "", installed, nil
}

// uniqueSlug suffixes a counter when the slug is already taken by a live
// pane or a leftover worktree directory.
func (c *Controller) uniqueSlug(slug string) string {
	taken := make(map[string]bool)
	for _, p := range c.store.Panes() {
		taken[p.Slug] = true
	}
	worktrees := config.WorktreesDir(c.store.ProjectRoot())

	candidate := slug
	for i := 2; ; i++ {
		_, statErr := os.Stat(filepath.Join(worktrees, candidate))
		if !taken[candidate] && os.IsNotExist(statErr) {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d", slug, i)
	}
}

// launchAgent types the agent command into the pane. The prompt travels via
// a temp file read-and-deleted by the shell, which sidesteps escaping limits
// on long prompts; when the write fails the prompt is inlined instead.
func (c *Controller) launchAgent(paneID, worktreePath string, agent config.Agent, prompt string) error {
	command := c.toolCfg.CommandFor(agent)
	if prompt == "" {
		return c.tmux.SendShellCommand(paneID, command)
	}

	promptFile, err := writePromptFile(worktreePath, prompt)
	if err == nil {
		quoted := shellQuote(promptFile)
		return c.tmux.SendShellCommand(paneID,
			fmt.Sprintf(`%s "$(cat %s; rm -f %s)"`, command, quoted, quoted))
	}
	return c.tmux.SendShellCommand(paneID, command+" "+shellQuote(prompt))
}

func writePromptFile(dir, prompt string) (string, error) {
	f, err := os.CreateTemp(dir, ".dmux-prompt-*")
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(prompt); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// shellQuote single-quotes a string for POSIX shells.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// approveTrustPrompt watches a fresh pane for the agent's first-launch trust
// question and answers it once.
func (c *Controller) approveTrustPrompt(paneID string) {
	deadline := time.Now().Add(trustPollWindow)
	for time.Now().Before(deadline) {
		time.Sleep(trustPollInterval)
		content, err := c.tmux.CapturePane(paneID, trustCaptureLines)
		if err != nil {
			return
		}
		if matchesTrustPrompt(content) {
			_ = c.tmux.SendKeys(paneID, "Enter")
			if c.log != nil {
				c.log.Debugf("lifecycle", "auto-approved trust prompt on %s", paneID)
			}
			return
		}
	}
}

func matchesTrustPrompt(content string) bool {
	lower := strings.ToLower(content)
	for _, pattern := range trustPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
