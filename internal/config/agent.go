package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Agent identifies an AI coding agent CLI.
type Agent string

const (
	AgentNone     Agent = ""
	AgentClaude   Agent = "claude"
	AgentOpencode Agent = "opencode"
	AgentCodex    Agent = "codex"
)

// ErrUnknownAgent is returned for identifiers outside the canonical set.
var ErrUnknownAgent = errors.New("unknown agent")

// Agents is the canonical identifier set.
var Agents = []Agent{AgentClaude, AgentOpencode, AgentCodex}

// ParseAgent validates an agent identifier. The empty string is valid and
// means "no agent" (shell pane or unset default).
func ParseAgent(s string) (Agent, error) {
	switch Agent(s) {
	case AgentNone, AgentClaude, AgentOpencode, AgentCodex:
		return Agent(s), nil
	}
	return AgentNone, fmt.Errorf("%w: %q", ErrUnknownAgent, s)
}

// SlugSuffix is appended to slugs when creating agent A/B pairs so the two
// branches stay distinct. Appending is idempotent.
func (a Agent) SlugSuffix() string {
	switch a {
	case AgentClaude:
		return "-claude-code"
	case AgentOpencode:
		return "-opencode"
	case AgentCodex:
		return "-codex"
	}
	return ""
}

// Command returns the command used to launch the agent.
func (a Agent) Command() string {
	return string(a)
}

// extraInstallDirs are probed in addition to PATH; agent installers drop
// binaries here without always updating the shell profile.
var extraInstallDirs = func() []string {
	home, _ := os.UserHomeDir()
	return []string{
		filepath.Join(home, ".local", "bin"),
		filepath.Join(home, ".claude", "local"),
		filepath.Join(home, ".opencode", "bin"),
		filepath.Join(home, ".codex", "bin"),
		filepath.Join(home, "bin"),
		"/usr/local/bin",
		"/opt/homebrew/bin",
	}
}()

// IsInstalled reports whether the agent binary can be found.
func (a Agent) IsInstalled() bool {
	if a == AgentNone {
		return false
	}
	if _, err := exec.LookPath(a.Command()); err == nil {
		return true
	}
	for _, dir := range extraInstallDirs {
		p := filepath.Join(dir, a.Command())
		if info, err := os.Stat(p); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return true
		}
	}
	return false
}

// InstalledAgents returns the agents found on this machine, in canonical
// order.
func InstalledAgents() []Agent {
	var installed []Agent
	for _, a := range Agents {
		if a.IsInstalled() {
			installed = append(installed, a)
		}
	}
	return installed
}
