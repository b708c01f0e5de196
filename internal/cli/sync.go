package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"rsyncssh/pkg/config"
	"rsyncssh/pkg/orchestrator"
	"rsyncssh/pkg/prompt"
	"rsyncssh/pkg/selector"
	"rsyncssh/pkg/workspace"
)

type syncFlags struct {
	fromRemote bool
	force      bool
	restrict   []string
	keys       []string
}

func (a *app) syncCommand() *cobra.Command {
	var f syncFlags
	cmd := &cobra.Command{
		Use:   "sync [path]",
		Short: "Sync a file, a folder or the whole project to its destinations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSync(cmd, args, f)
		},
	}
	cmd.Flags().BoolVar(&f.fromRemote, "from-remote", false, "copy from the destinations instead of to them")
	cmd.Flags().BoolVar(&f.force, "force", false, "include disabled destinations")
	cmd.Flags().StringSliceVar(&f.restrict, "restrict", nil, "only sync to these destinations (user@host:port:path)")
	cmd.Flags().StringSliceVar(&f.keys, "keys", nil, "only sync these configuration keys")
	return cmd
}

func (a *app) fromRemoteCommand() *cobra.Command {
	var f syncFlags
	cmd := &cobra.Command{
		Use:   "from-remote [path]",
		Short: "Copy a file, a folder or the whole project back from its destinations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.fromRemote = true
			return a.runSync(cmd, args, f)
		},
	}
	cmd.Flags().BoolVar(&f.force, "force", false, "include disabled destinations")
	cmd.Flags().StringSliceVar(&f.restrict, "restrict", nil, "only sync from these destinations (user@host:port:path)")
	return cmd
}

func (a *app) remoteCommand() *cobra.Command {
	var fromRemote bool
	cmd := &cobra.Command{
		Use:   "remote [path]",
		Short: "Pick one remote, and optionally one of its destinations, to sync",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.loadWorkspace()
			if err != nil {
				return err
			}
			settings, err := ws.Configuration()
			if err != nil {
				return err
			}

			sel, err := prompt.PickRemote(settings, a.chooser)
			switch {
			case errors.Is(err, prompt.ErrCancelled):
				return nil
			case err != nil:
				return err
			}

			cfg, err := a.loadConfig(false)
			if err != nil {
				return err
			}
			p, err := pathArg(args)
			if err != nil {
				return err
			}
			return a.sync(cmd, cfg, ws, orchestrator.Request{
				Project:    ws.ProjectFile,
				Path:       p,
				Restrict:   sel.Restrict,
				Force:      sel.Force,
				FromRemote: fromRemote,
				Keys:       []string{sel.Key},
			})
		},
	}
	cmd.Flags().BoolVar(&fromRemote, "from-remote", false, "copy from the chosen remote instead of to it")
	return cmd
}

func (a *app) runSync(cmd *cobra.Command, args []string, f syncFlags) error {
	cfg, err := a.loadConfig(false)
	if err != nil {
		return err
	}
	ws, err := a.loadWorkspace()
	if err != nil {
		return err
	}

	p, err := pathArg(args)
	if err != nil {
		return err
	}

	return a.sync(cmd, cfg, ws, orchestrator.Request{
		Project:    ws.ProjectFile,
		Path:       p,
		Restrict:   selector.NewRestriction(f.restrict...),
		Force:      f.force,
		FromRemote: f.fromRemote,
		Keys:       f.keys,
	})
}

func pathArg(args []string) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	p, err := filepath.Abs(args[0])
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	return p, nil
}

func (a *app) sync(cmd *cobra.Command, cfg *config.Config, ws *workspace.Workspace, req orchestrator.Request) error {
	con := a.console()
	orch, cleanup, err := a.orchestrator(cfg, con)
	if err != nil {
		return err
	}
	defer cleanup()

	summary, err := orch.Sync(cmd.Context(), ws, req)
	if err != nil {
		con.Show()
		if errors.Is(err, workspace.ErrNotConfigured) {
			return &ExitError{Code: orchestrator.ExitConfigError}
		}
		return err
	}

	if code := summary.ExitCode(); code != orchestrator.ExitSynced {
		con.Show()
		return &ExitError{Code: code}
	}
	return nil
}
