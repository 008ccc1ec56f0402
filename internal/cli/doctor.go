package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dmux-sh/dmux/internal/config"
	"github.com/dmux-sh/dmux/internal/git"
	"github.com/dmux-sh/dmux/internal/tmux"
)

// minTmuxMajor/Minor is the oldest tmux dmux works with; pane-border-status
// and the hook set need 3.0.
const (
	minTmuxMajor = 3
	minTmuxMinor = 0
)

type doctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Detail  string `json:"detail,omitempty"`
	Hint    string `json:"hint,omitempty"`
	Require bool   `json:"required"`
}

func newDoctorCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check tmux, git and installed agent CLIs",
		Long: `Check that everything dmux depends on is available:

Required:
  - tmux >= 3.0
  - git

Agents (at least one):
  - claude (Claude Code CLI)
  - codex  (OpenAI Codex CLI)
  - opencode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.OutOrStdout(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable output")
	return cmd
}

func runDoctor(out io.Writer, asJSON bool) error {
	checks := collectChecks()

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"checks":  checks,
			"healthy": allRequired(checks),
		})
	}

	for _, c := range checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		line := fmt.Sprintf("%s %s", mark, c.Name)
		if c.Detail != "" {
			line += " — " + c.Detail
		}
		fmt.Fprintln(out, line)
		if !c.OK && c.Hint != "" {
			fmt.Fprintln(out, "    "+c.Hint)
		}
	}
	if !allRequired(checks) {
		return fmt.Errorf("required dependencies missing")
	}
	return nil
}

func allRequired(checks []doctorCheck) bool {
	for _, c := range checks {
		if c.Require && !c.OK {
			return false
		}
	}
	return true
}

func collectChecks() []doctorCheck {
	checks := []doctorCheck{tmuxCheck(), gitCheck()}

	agents := config.InstalledAgents()
	installed := make(map[config.Agent]bool, len(agents))
	for _, a := range agents {
		installed[a] = true
	}
	for _, a := range config.Agents {
		check := doctorCheck{Name: string(a), OK: installed[a]}
		if !check.OK {
			check.Hint = "install the " + string(a) + " CLI to use it as an agent"
		}
		checks = append(checks, check)
	}
	if len(agents) == 0 {
		checks = append(checks, doctorCheck{
			Name:    "agents",
			OK:      false,
			Require: true,
			Detail:  "no agent CLI found",
			Hint:    "install at least one of claude, codex, opencode",
		})
	}
	return checks
}

func tmuxCheck() doctorCheck {
	check := doctorCheck{Name: "tmux", Require: true}
	if !tmux.IsInstalled() {
		check.Hint = "brew install tmux (macOS) / apt install tmux (Linux)"
		return check
	}
	out, err := exec.Command(tmux.BinaryPath(), "-V").Output()
	if err != nil {
		check.Detail = fmt.Sprintf("tmux -V failed: %v", err)
		return check
	}
	version := strings.TrimSpace(string(out))
	check.Detail = version
	major, minor, ok := parseTmuxVersion(version)
	if !ok {
		// Unparseable versions (head builds) are assumed new enough.
		check.OK = true
		return check
	}
	check.OK = major > minTmuxMajor || (major == minTmuxMajor && minor >= minTmuxMinor)
	if !check.OK {
		check.Hint = fmt.Sprintf("dmux needs tmux %d.%d or newer", minTmuxMajor, minTmuxMinor)
	}
	return check
}

func gitCheck() doctorCheck {
	check := doctorCheck{Name: "git", Require: true}
	out, err := exec.Command("git", "--version").Output()
	if err != nil {
		check.Hint = "install git"
		return check
	}
	check.OK = true
	check.Detail = strings.TrimSpace(string(out))
	if cwd, err := os.Getwd(); err == nil && !git.IsRepository(cwd) {
		check.Detail += " (current directory is not a repository)"
	}
	return check
}

// parseTmuxVersion extracts major.minor from `tmux -V` output such as
// "tmux 3.4" or "tmux 3.3a". Builds like "tmux next-3.5" report ok=false.
func parseTmuxVersion(s string) (major, minor int, ok bool) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return 0, 0, false
	}
	version := fields[len(fields)-1]
	parts := strings.SplitN(version, ".", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	rest := parts[1]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, 0, false
	}
	minor, err = strconv.Atoi(rest[:end])
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}
