// Package hooks runs user-supplied lifecycle scripts. Scripts live in three
// places, checked in order: the committed team directory, the per-checkout
// local override, and the user's global directory. The first executable file
// wins; a matching file that isn't executable is reported and skipped so a
// forgotten chmod doesn't fail silently.
package hooks

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dmux-sh/dmux/internal/config"
	"github.com/dmux-sh/dmux/internal/logring"
)

// Hook names dmux triggers.
const (
	HookWorktreeCreated = "worktree_created"
	HookBeforePaneClose = "before_pane_close"
	HookPaneClosed      = "pane_closed"
	HookRunTest         = "run_test"
	HookRunDev          = "run_dev"
	HookPreMerge        = "pre_merge"
	HookPostMerge       = "post_merge"
	HookPrePR           = "pre_pr"
)

// Sync execution timeouts.
const (
	DefaultSyncTimeout = 30 * time.Second
	MergeSyncTimeout   = 10 * time.Minute
	// syncKillGrace bounds how long a timed-out hook's children may keep
	// the output pipes open before they are abandoned.
	syncKillGrace = time.Second
)

// Env is the variable set passed to every hook.
type Env struct {
	Root         string
	ServerPort   int
	PaneID       string
	Slug         string
	Prompt       string
	Agent        string
	TmuxPaneID   string
	WorktreePath string
	Branch       string
	TargetBranch string
	Extra        map[string]string
}

func (e Env) vars() []string {
	vars := []string{
		"DMUX_ROOT=" + e.Root,
		"DMUX_SERVER_PORT=" + strconv.Itoa(e.ServerPort),
		"DMUX_PANE_ID=" + e.PaneID,
		"DMUX_SLUG=" + e.Slug,
		"DMUX_PROMPT=" + e.Prompt,
		"DMUX_AGENT=" + e.Agent,
		"DMUX_TMUX_PANE_ID=" + e.TmuxPaneID,
		"DMUX_WORKTREE_PATH=" + e.WorktreePath,
		"DMUX_BRANCH=" + e.Branch,
	}
	if e.TargetBranch != "" {
		vars = append(vars, "DMUX_TARGET_BRANCH="+e.TargetBranch)
	}
	for k, v := range e.Extra {
		vars = append(vars, k+"="+v)
	}
	return vars
}

// Runner resolves and executes hooks for one project.
type Runner struct {
	projectRoot string
	log         *logring.Ring
	// globalDir is overridable for tests; empty means ~/.dmux/hooks.
	globalDir string
}

// NewRunner builds a runner rooted at the project.
func NewRunner(projectRoot string, log *logring.Ring) *Runner {
	return &Runner{projectRoot: projectRoot, log: log}
}

// Resolve finds the script for a hook name. Returns the path of the first
// executable candidate, or "" when no hook is installed.
func (r *Runner) Resolve(name string) (string, error) {
	dirs := []string{
		config.TeamHooksDir(r.projectRoot),
		config.LocalHooksDir(r.projectRoot),
		r.globalHooksDir(),
	}
	for _, dir := range dirs {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.IsDir() {
			continue
		}
		if info.Mode()&0o111 == 0 {
			if r.log != nil {
				r.log.Warnf("hooks", "%s exists but is not executable, skipping (chmod +x %s)", name, path)
			}
			continue
		}
		return path, nil
	}
	return "", nil
}

func (r *Runner) globalHooksDir() string {
	if r.globalDir != "" {
		return r.globalDir
	}
	return config.GlobalHooksDir()
}

// Installed lists hook names with a resolvable script, for /api/hooks.
func (r *Runner) Installed() []string {
	names := []string{
		HookWorktreeCreated, HookBeforePaneClose, HookPaneClosed,
		HookRunTest, HookRunDev, HookPreMerge, HookPostMerge, HookPrePR,
	}
	var out []string
	for _, name := range names {
		if path, _ := r.Resolve(name); path != "" {
			out = append(out, name)
		}
	}
	return out
}

// Trigger runs a hook detached. The exit code lands in the log ring when the
// script finishes; the caller never waits.
func (r *Runner) Trigger(name string, env Env) {
	path, err := r.Resolve(name)
	if err != nil || path == "" {
		return
	}
	cmd := exec.Command(path)
	cmd.Dir = r.workDir(env)
	cmd.Env = append(os.Environ(), env.vars()...)
	go func() {
		err := cmd.Run()
		if r.log == nil {
			return
		}
		if err != nil {
			r.log.Warnf("hooks", "%s exited with error: %v", name, err)
			return
		}
		r.log.Debugf("hooks", "%s completed", name)
	}()
}

// TriggerSync runs a hook and waits for it, with a timeout. A missing hook
// succeeds immediately. Returns the script's combined output on failure.
func (r *Runner) TriggerSync(ctx context.Context, name string, env Env, timeout time.Duration) error {
	path, err := r.Resolve(name)
	if err != nil || path == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path)
	cmd.Dir = r.workDir(env)
	cmd.Env = append(os.Environ(), env.vars()...)
	// Without a wait delay, Run keeps waiting on the output pipes after the
	// kill for as long as any forked child holds them open.
	cmd.WaitDelay = syncKillGrace
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("hook %s timed out after %s", name, timeout)
		}
		return fmt.Errorf("hook %s failed: %w: %s", name, err, truncate(output.String(), 400))
	}
	return nil
}

func (r *Runner) workDir(env Env) string {
	if env.WorktreePath != "" {
		return env.WorktreePath
	}
	return r.projectRoot
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
