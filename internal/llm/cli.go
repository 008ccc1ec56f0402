package llm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CLIProvider runs an agent CLI in non-interactive print mode. The claude
// and codex CLIs both accept a prompt and write the answer to stdout, which
// makes them a free local model when installed.
type CLIProvider struct {
	Binary string
	// Args precede the prompt. For claude: ["-p"], for codex: ["exec"].
	Args []string
	// JSONArgs are added when the request asks for JSON output.
	JSONArgs []string
}

// NewClaudeCLI returns a provider backed by the claude CLI.
func NewClaudeCLI() *CLIProvider {
	return &CLIProvider{Binary: "claude", Args: []string{"-p"}}
}

// NewCodexCLI returns a provider backed by the codex CLI.
func NewCodexCLI() *CLIProvider {
	return &CLIProvider{Binary: "codex", Args: []string{"exec", "--skip-git-repo-check"}}
}

// Name implements Provider.
func (p *CLIProvider) Name() string { return p.Binary + "-cli" }

// Available implements Provider.
func (p *CLIProvider) Available() bool {
	_, err := exec.LookPath(p.Binary)
	return err == nil
}

// Call implements Provider.
func (p *CLIProvider) Call(ctx context.Context, req Request) (string, error) {
	prompt := req.Prompt
	if req.JSON {
		prompt += "\n\nRespond with a single JSON object and nothing else."
	}

	args := append([]string{}, p.Args...)
	if req.JSON {
		args = append(args, p.JSONArgs...)
	}
	args = append(args, prompt)

	cmd := exec.CommandContext(ctx, p.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%s: %w: %s", p.Binary, err, strings.TrimSpace(stderr.String()))
	}
	out := stdout.String()
	if req.JSON {
		if extracted := ExtractJSON(out); extracted != "" {
			return extracted, nil
		}
	}
	return strings.TrimSpace(out), nil
}
