package hooks

import (
	"os"
	"path/filepath"

	"github.com/dmux-sh/dmux/internal/config"
)

const hooksReadme = `# dmux hooks

Executable scripts in this directory run at lifecycle points. Name a script
after the hook and make it executable. Resolution order when the same hook
exists in several places: .dmux-hooks/ (this directory, committed),
.dmux/hooks/ (local override), ~/.dmux/hooks/ (global).

Hooks:

  worktree_created    after a pane's worktree exists (detached)
  before_pane_close   before a pane is killed (detached)
  pane_closed         after a pane's record is removed (detached)
  run_test            "run tests" action; report via the HTTP API (detached)
  run_dev             "run dev server" action (detached)
  pre_merge           before a merge executes (synchronous, blocks the merge)
  post_merge          after a merge lands (detached)
  pre_pr              before a PR is opened (synchronous)

Environment: DMUX_ROOT, DMUX_SERVER_PORT, DMUX_PANE_ID, DMUX_SLUG,
DMUX_PROMPT, DMUX_AGENT, DMUX_TMUX_PANE_ID, DMUX_WORKTREE_PATH, DMUX_BRANCH,
and DMUX_TARGET_BRANCH during merges.

Report test/dev status back:

  curl -X PUT "http://localhost:$DMUX_SERVER_PORT/api/panes/$DMUX_PANE_ID/test" \
    -H 'Content-Type: application/json' -d '{"status":"passed"}'
`

const hooksAgentDoc = `# Working in a dmux worktree

This checkout is a git worktree managed by dmux. Commit to the current
branch; do not switch branches or touch other worktrees. The merge back to
the main branch happens through dmux when the task is done.
`

const exampleTestHook = `#!/bin/sh
# run_test: report status so the dashboard shows pass/fail.
port="$DMUX_SERVER_PORT"
pane="$DMUX_PANE_ID"
curl -fsS -X PUT "http://localhost:$port/api/panes/$pane/test" \
  -H 'Content-Type: application/json' -d '{"status":"running"}' >/dev/null
if make test; then status=passed; else status=failed; fi
curl -fsS -X PUT "http://localhost:$port/api/panes/$pane/test" \
  -H 'Content-Type: application/json' -d "{\"status\":\"$status\"}" >/dev/null
`

// MaterialiseDocs writes the hook documentation and examples into the team
// hooks directory. Existing files are left alone so user edits survive.
func MaterialiseDocs(projectRoot string) error {
	dir := config.TeamHooksDir(projectRoot)
	if err := os.MkdirAll(filepath.Join(dir, "examples"), 0o755); err != nil {
		return err
	}
	files := map[string]struct {
		content string
		mode    os.FileMode
	}{
		"README.md":         {hooksReadme, 0o644},
		"AGENTS.md":         {hooksAgentDoc, 0o644},
		"CLAUDE.md":         {hooksAgentDoc, 0o644},
		"examples/run_test": {exampleTestHook, 0o755},
	}
	for name, file := range files {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(file.content), file.mode); err != nil {
			return err
		}
	}
	return nil
}
