package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"rsyncssh/pkg/workspace"
)

func (a *app) initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Add a skeleton rsync_ssh configuration to the project file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := a.project()
			if err != nil {
				return err
			}
			if err := workspace.InitSettings(a.fs, project, a.goos); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Added rsync_ssh configuration to %s\n", project)
			return nil
		},
	}
}
