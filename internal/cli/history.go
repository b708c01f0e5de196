package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"rsyncssh/pkg/history"
)

func (a *app) historyCommand() *cobra.Command {
	var (
		n      int
		failed bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(false)
			if err != nil {
				return err
			}
			if !cfg.History.Enabled {
				return errors.New("history is disabled, set history.enabled in the config file")
			}

			store, err := history.Open(cfg.History.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			var records []history.Record
			if failed {
				records, err = store.Failed(ctx, n)
			} else {
				records, err = store.Recent(ctx, n)
			}
			if err != nil {
				return err
			}

			if len(records) == 0 {
				fmt.Fprintln(a.stdout, "no history yet")
				return nil
			}

			for _, r := range records {
				mark := "✓"
				switch r.Status {
				case history.StatusFailed:
					mark = "✗"
				case history.StatusSkipped:
					mark = "-"
				}
				direction := "->"
				if r.FromRemote {
					direction = "<-"
				}
				fmt.Fprintf(a.stdout, "%s [%s] %-22s %s %s %s:%s\n",
					mark,
					r.SyncedAt.Format("2006-01-02 15:04:05"),
					r.Kind,
					r.SrcPath,
					direction,
					r.Host,
					r.DstPath,
				)
				if r.ErrMsg != "" {
					fmt.Fprintf(a.stdout, "    %s\n", r.ErrMsg)
				}
			}

			stats, err := store.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "total %d, synced %d, failed %d, skipped %d\n",
				stats.Total, stats.Success, stats.Failed, stats.Skipped)
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of history entries to show")
	cmd.Flags().BoolVar(&failed, "failed", false, "only show failed syncs")
	return cmd
}
