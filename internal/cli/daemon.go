package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"rsyncssh/internal/daemon"
	"rsyncssh/pkg/logger"
)

func (a *app) daemonCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the queue worker and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(true)
			if err != nil {
				return err
			}

			level, err := logger.ParseLevel(cfg.Daemon.LogLevel)
			if err != nil {
				return err
			}
			if !a.debug {
				logger.SetLevel(level)
			}

			service, err := daemon.NewDaemonService(cfg)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("starting rsync-ssh daemon", nil)
				errCh <- service.Start()
			}()

			select {
			case <-cmd.Context().Done():
				logger.Info("received shutdown signal", nil)
			case err := <-errCh:
				if err != nil {
					logger.Error("daemon start failed", err, nil)
					return err
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := service.Shutdown(shutdownCtx); err != nil {
				logger.Error("graceful shutdown failed", err, nil)
				return err
			}

			logger.Info("daemon stopped successfully", nil)
			return nil
		},
	}
}
