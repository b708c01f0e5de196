package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rsyncssh/pkg/logger"
	"rsyncssh/pkg/orchestrator"
	"rsyncssh/pkg/watch"
)

func (a *app) watchCommand() *cobra.Command {
	var delay time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync files as they are saved below the project folders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(false)
			if err != nil {
				return err
			}
			ws, err := a.loadWorkspace()
			if err != nil {
				return err
			}
			if _, err := ws.Configuration(); err != nil {
				return err
			}

			orch, cleanup, err := a.orchestrator(cfg, a.console())
			if err != nil {
				return err
			}
			defer cleanup()

			w, err := watch.New(delay, logger.NewDefault())
			if err != nil {
				return err
			}
			defer w.Close()

			folders := ws.ListOpenFolders()
			for _, folder := range folders {
				if err := w.Add(folder); err != nil {
					return err
				}
			}
			fmt.Fprintf(a.stderr, "Watching %d folder(s) of %s\n", len(folders), ws.ProjectFile)

			return w.Run(cmd.Context(), func(ctx context.Context, path string) {
				_, err := orch.OnSave(ctx, ws, ws.ProjectFile, path)
				switch {
				case errors.Is(err, orchestrator.ErrSaveIgnored), errors.Is(err, orchestrator.ErrSyncInProgress):
					logger.Debug("save dropped", map[string]any{"path": path, "reason": err.Error()})
				case err != nil:
					logger.Error("save sync failed", err, map[string]any{"path": path})
				}
			})
		},
	}
	cmd.Flags().DurationVar(&delay, "delay", 300*time.Millisecond, "quiet period after the last write before a file is synced")
	return cmd
}
