package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"rsyncssh/pkg/logger"
	"rsyncssh/pkg/publisher"
	"rsyncssh/pkg/task"
)

func (a *app) publishCommand() *cobra.Command {
	var (
		f    syncFlags
		save bool
	)
	cmd := &cobra.Command{
		Use:   "publish [path]",
		Short: "Queue a sync for the daemon to run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(true)
			if err != nil {
				return err
			}
			project, err := a.project()
			if err != nil {
				return err
			}
			p, err := pathArg(args)
			if err != nil {
				return err
			}

			pub, err := publisher.NewPublisher(cfg)
			if err != nil {
				return fmt.Errorf("create publisher: %w", err)
			}
			defer pub.Close()

			payload := task.SyncPayload{
				ProjectFile: project,
				Path:        p,
				Restrict:    f.restrict,
				Force:       f.force,
				FromRemote:  f.fromRemote,
				Keys:        f.keys,
				Save:        save,
			}
			if err := pub.PublishSync(cmd.Context(), payload); err != nil {
				return fmt.Errorf("publish task: %w", err)
			}

			logger.Info("task published successfully", map[string]any{
				"project_file": payload.ProjectFile,
				"path":         payload.Path,
			})
			return nil
		},
	}
	cmd.Flags().BoolVar(&f.fromRemote, "from-remote", false, "copy from the destinations instead of to them")
	cmd.Flags().BoolVar(&f.force, "force", false, "include disabled destinations")
	cmd.Flags().StringSliceVar(&f.restrict, "restrict", nil, "only sync these destinations (user@host:port:path)")
	cmd.Flags().StringSliceVar(&f.keys, "keys", nil, "only sync these configuration keys")
	cmd.Flags().BoolVar(&save, "save", false, "treat the path as a saved file, subject to the save hooks and debouncing")
	return cmd
}
