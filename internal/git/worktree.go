package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Worktree is one entry of `git worktree list --porcelain`.
type Worktree struct {
	Path   string
	Branch string
	Commit string
}

// WorktreeList lists the worktrees of the repository.
func (c *Client) WorktreeList() ([]Worktree, error) {
	out, err := c.run("worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreeList(out), nil
}

func parseWorktreeList(out string) []Worktree {
	var worktrees []Worktree
	var current Worktree
	flush := func() {
		if current.Path != "" {
			worktrees = append(worktrees, current)
		}
		current = Worktree{}
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			flush()
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case strings.HasPrefix(line, "HEAD "):
			current.Commit = strings.TrimPrefix(line, "HEAD ")
		}
	}
	flush()
	return worktrees
}

// WorktreeAdd creates a worktree at path on a new branch off base. When base
// is empty the branch starts at the current HEAD.
func (c *Client) WorktreeAdd(ctx context.Context, path, branch, base string) error {
	if err := ValidateBranchName(branch); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating worktree parent directory: %w", err)
	}
	args := []string{"worktree", "add", "-b", branch, path}
	if base != "" {
		args = append(args, base)
	}
	_, err := c.runIn(ctx, c.Dir, DefaultTimeout, args...)
	return err
}

// WorktreeRemove removes a worktree. An already-removed worktree is not an
// error; a removal that fails is retried after pruning.
func (c *Client) WorktreeRemove(path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := c.run(args...)
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "is not a working tree") ||
		strings.Contains(err.Error(), "No such file or directory") {
		return nil
	}
	_ = c.WorktreePrune()
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		return nil
	}
	if rmErr := os.RemoveAll(path); rmErr == nil {
		_ = c.WorktreePrune()
		return nil
	}
	return err
}

// WorktreePrune prunes stale worktree bookkeeping.
func (c *Client) WorktreePrune() error {
	_, err := c.run("worktree", "prune")
	return err
}

// SubWorktrees lists worktrees registered from within a worktree at path,
// excluding path itself. Hooks can create nested worktrees; the merge engine
// has to fold those in leaf-first.
func (c *Client) SubWorktrees(path string) ([]Worktree, error) {
	out, err := c.runIn(nil, path, DefaultTimeout, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var subs []Worktree
	for _, wt := range parseWorktreeList(out) {
		if wt.Path == path {
			continue
		}
		if strings.HasPrefix(wt.Path, path+string(filepath.Separator)) {
			subs = append(subs, wt)
		}
	}
	return subs, nil
}
