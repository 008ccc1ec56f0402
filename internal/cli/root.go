// Package cli is the dmux command surface. The bare `dmux` command resolves
// the project, creates or attaches the per-project tmux session and runs the
// control-pane dashboard inside it.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set by the release build.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "dmux",
	Short: "Run concurrent AI coding agents in tmux panes and git worktrees",
	Long: `dmux turns a git repository into a control pane for AI coding agents.
Each agent runs in its own tmux pane on its own git worktree; dmux watches
their terminals, surfaces pending questions, and merges finished branches
back.

Quick start:
  cd your-repo && dmux       # create or attach the project session
  n                          # (inside) start an agent on a task
  m                          # (inside) merge the selected agent's branch

Hook scripts in .dmux-hooks/ run on lifecycle events; see dmux hooks init.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRoot()
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(
		newVersionCmd(),
		newDoctorCmd(),
		newHooksCmd(),
		newServeCmd(),
	)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dmux version %s\n", Version)
		},
	}
}
