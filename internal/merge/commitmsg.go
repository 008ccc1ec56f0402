package merge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmux-sh/dmux/internal/llm"
)

const commitPrompt = `Write a conventional commit message (type: summary, max 72
characters on the first line) for this diff. Respond with the message only.

Diff:
%s`

const conflictPrompt = `This repository has a merge in progress with conflict markers.
Branch %s is being merged into %s. Resolve every conflicted file, preserving
the intent of BOTH sides; do not drop either feature. When all conflicts are
resolved, stage the files and commit the merge. Do not push.`

const maxDiffChars = 8000

// generateCommitMessage asks the model for a conventional commit message
// describing the uncommitted changes at path.
func (e *Engine) generateCommitMessage(ctx context.Context, path string) (string, error) {
	if e.chain == nil {
		return "", fmt.Errorf("no model configured")
	}
	diff, err := e.git.Diff(path, false)
	if err != nil {
		return "", err
	}
	staged, err := e.git.Diff(path, true)
	if err == nil && staged != "" {
		diff = staged + "\n" + diff
	}
	if strings.TrimSpace(diff) == "" {
		return "", fmt.Errorf("nothing to describe")
	}
	if len(diff) > maxDiffChars {
		diff = diff[:maxDiffChars]
	}

	out, err := e.chain.Call(ctx, llm.Request{
		Prompt:    fmt.Sprintf(commitPrompt, diff),
		MaxTokens: 100,
		Timeout:   15 * time.Second,
	})
	if err != nil {
		return "", err
	}
	message := cleanCommitMessage(out)
	if message == "" {
		return "", fmt.Errorf("model returned no usable message")
	}
	return message, nil
}

// cleanCommitMessage strips fences and quoting the model tends to add.
func cleanCommitMessage(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`\"'")
	if idx := strings.IndexByte(raw, '\n'); idx >= 0 {
		raw = raw[:idx]
	}
	raw = strings.TrimSpace(raw)
	if len(raw) > 72 {
		raw = strings.TrimSpace(raw[:72])
	}
	return raw
}
