package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmux-sh/dmux/internal/config"
	"github.com/dmux-sh/dmux/internal/git"
	"github.com/dmux-sh/dmux/internal/hooks"
	"github.com/dmux-sh/dmux/internal/logring"
)

func newHooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Manage lifecycle hook scripts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create .dmux-hooks/ with docs and an example script",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot()
			if err != nil {
				return err
			}
			if err := hooks.MaterialiseDocs(root); err != nil {
				return fmt.Errorf("writing hook docs: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", config.TeamHooksDir(root))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show which hooks are installed and where they resolve",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot()
			if err != nil {
				return err
			}
			runner := hooks.NewRunner(root, logring.New(16))
			installed := runner.Installed()
			if len(installed) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No hooks installed; run `dmux hooks init` to get started.")
				return nil
			}
			for _, name := range installed {
				path, _ := runner.Resolve(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, path)
			}
			return nil
		},
	})

	return cmd
}

func projectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	root, err := git.Root(cwd)
	if err != nil {
		return "", fmt.Errorf("dmux needs a git repository: %w", err)
	}
	return root, nil
}
