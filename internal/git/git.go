// Package git shells out to the git command line for branch, status and
// worktree operations. Nothing here reimplements git plumbing.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds individual git invocations. Merges can legitimately
// take longer and use MergeTimeout.
const (
	DefaultTimeout = 10 * time.Second
	MergeTimeout   = 2 * time.Minute
)

// Client runs git commands rooted at a repository directory.
type Client struct {
	// Dir is the working directory for commands unless a method takes an
	// explicit path.
	Dir string
}

// NewClient returns a git client rooted at dir.
func NewClient(dir string) *Client {
	return &Client{Dir: dir}
}

func (c *Client) runIn(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), ctxErr)
		}
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimRight(stdout.String(), "\n"), nil
}

func (c *Client) run(args ...string) (string, error) {
	return c.runIn(nil, c.Dir, DefaultTimeout, args...)
}

// IsRepository checks whether dir is inside a git repository.
func IsRepository(dir string) bool {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = dir
	return cmd.Run() == nil
}

// Root returns the top-level directory of the repository containing dir.
func Root(dir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("not a git repository: %s", dir)
	}
	return strings.TrimSpace(string(out)), nil
}

// CurrentBranch returns the checked-out branch of a working tree.
func (c *Client) CurrentBranch(path string) (string, error) {
	out, err := c.runIn(nil, path, DefaultTimeout, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// MainBranch detects the repository's main branch: the remote HEAD if set,
// then "main", then "master".
func (c *Client) MainBranch() (string, error) {
	if out, err := c.run("symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
		ref := strings.TrimSpace(out)
		if idx := strings.LastIndex(ref, "/"); idx >= 0 {
			return ref[idx+1:], nil
		}
	}
	for _, name := range []string{"main", "master"} {
		if _, err := c.run("show-ref", "--verify", "--quiet", "refs/heads/"+name); err == nil {
			return name, nil
		}
	}
	return "", fmt.Errorf("no main branch found (tried origin/HEAD, main, master)")
}

// FileStatus is one entry of porcelain status output.
type FileStatus struct {
	Status string // two-character porcelain code, e.g. " M", "??"
	Path   string
}

// StatusPorcelain returns the dirty files of a working tree.
func (c *Client) StatusPorcelain(path string) ([]FileStatus, error) {
	out, err := c.runIn(nil, path, DefaultTimeout, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parsePorcelain(out), nil
}

func parsePorcelain(out string) []FileStatus {
	var files []FileStatus
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		files = append(files, FileStatus{Status: line[:2], Path: strings.TrimSpace(line[3:])})
	}
	return files
}

// IsDirty reports whether a working tree has uncommitted changes.
func (c *Client) IsDirty(path string) (bool, error) {
	files, err := c.StatusPorcelain(path)
	if err != nil {
		return false, err
	}
	return len(files) > 0, nil
}

// Diff returns the diff of a working tree, staged changes only when cached.
func (c *Client) Diff(path string, cached bool) (string, error) {
	args := []string{"diff"}
	if cached {
		args = append(args, "--cached")
	}
	return c.runIn(nil, path, DefaultTimeout, args...)
}

// StageAll stages every change in a working tree.
func (c *Client) StageAll(path string) error {
	_, err := c.runIn(nil, path, DefaultTimeout, "add", "-A")
	return err
}

// Commit commits staged changes with the given message.
func (c *Client) Commit(path, message string) error {
	_, err := c.runIn(nil, path, DefaultTimeout, "commit", "-m", message)
	return err
}

// Stash stashes all changes including untracked files.
func (c *Client) Stash(path string) error {
	_, err := c.runIn(nil, path, DefaultTimeout, "stash", "push", "--include-untracked")
	return err
}

// Checkout switches a working tree to ref.
func (c *Client) Checkout(path, ref string) error {
	_, err := c.runIn(nil, path, DefaultTimeout, "checkout", ref)
	return err
}

// MergeOptions configures Merge.
type MergeOptions struct {
	NoEdit   bool
	NoCommit bool
	NoFF     bool
}

// Merge merges ref into the working tree at path.
func (c *Client) Merge(ctx context.Context, path, ref string, opts MergeOptions) error {
	args := []string{"merge"}
	if opts.NoEdit {
		args = append(args, "--no-edit")
	}
	if opts.NoCommit {
		args = append(args, "--no-commit")
	}
	if opts.NoFF {
		args = append(args, "--no-ff")
	}
	args = append(args, ref)
	_, err := c.runIn(ctx, path, MergeTimeout, args...)
	return err
}

// MergeAbort aborts an in-progress merge. Not being mid-merge is fine.
func (c *Client) MergeAbort(path string) error {
	_, err := c.runIn(nil, path, DefaultTimeout, "merge", "--abort")
	if err != nil && strings.Contains(err.Error(), "MERGE_HEAD missing") {
		return nil
	}
	return err
}

// MergeInProgress reports whether MERGE_HEAD exists in the working tree.
func (c *Client) MergeInProgress(path string) bool {
	_, err := c.runIn(nil, path, DefaultTimeout, "rev-parse", "--verify", "--quiet", "MERGE_HEAD")
	return err == nil
}

// AheadCount returns how many commits branch is ahead of base.
func (c *Client) AheadCount(path, base, branch string) (int, error) {
	out, err := c.runIn(nil, path, DefaultTimeout, "rev-list", "--count", base+".."+branch)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parsing rev-list count %q: %w", out, err)
	}
	return n, nil
}

// ConflictFiles dry-runs a merge of ref into the working tree at path and
// returns the files that would conflict. The tree is left untouched.
func (c *Client) ConflictFiles(path, ref string) ([]string, error) {
	// merge-tree (git >= 2.38) detects conflicts without touching the tree.
	out, err := c.runIn(nil, path, DefaultTimeout, "merge-tree", "--write-tree", "--name-only", "HEAD", ref)
	if err == nil {
		return parseMergeTreeConflicts(out), nil
	}

	// Fallback: attempt the merge without committing, collect conflicts,
	// then abort.
	_, mergeErr := c.runIn(nil, path, MergeTimeout, "merge", "--no-commit", "--no-ff", ref)
	defer func() { _ = c.MergeAbort(path) }()
	if mergeErr == nil {
		return nil, nil
	}
	out, err = c.runIn(nil, path, DefaultTimeout, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// parseMergeTreeConflicts extracts conflicted paths from merge-tree output.
// The first line is the result tree OID; conflicted file names follow.
func parseMergeTreeConflicts(out string) []string {
	lines := splitLines(out)
	if len(lines) <= 1 {
		return nil
	}
	return lines[1:]
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Log returns one-line log entries for a range.
func (c *Client) Log(path, rangeSpec string, limit int) ([]string, error) {
	args := []string{"log", "--oneline"}
	if limit > 0 {
		args = append(args, fmt.Sprintf("-%d", limit))
	}
	if rangeSpec != "" {
		args = append(args, rangeSpec)
	}
	out, err := c.runIn(nil, path, DefaultTimeout, args...)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// BranchDelete deletes a branch. A branch that is already gone is not an
// error.
func (c *Client) BranchDelete(name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := c.run("branch", flag, name)
	if err != nil && strings.Contains(err.Error(), "not found") {
		return nil
	}
	return err
}

// Push pushes a branch to origin.
func (c *Client) Push(ctx context.Context, path, branch string) error {
	_, err := c.runIn(ctx, path, MergeTimeout, "push", "-u", "origin", branch)
	return err
}
