// Package cli is the rsync-ssh command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"rsyncssh/pkg/cache"
	"rsyncssh/pkg/config"
	"rsyncssh/pkg/console"
	"rsyncssh/pkg/executor"
	"rsyncssh/pkg/history"
	"rsyncssh/pkg/logger"
	"rsyncssh/pkg/notify"
	"rsyncssh/pkg/orchestrator"
	"rsyncssh/pkg/prompt"
	"rsyncssh/pkg/runner"
	"rsyncssh/pkg/workspace"
)

// ExitError ends the process with Code. Err may be nil when the output of
// the run already explains the failure.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

var projectPatterns = []string{"*.rsync-ssh.yaml", "*.rsync-ssh.yml", "*.sublime-project"}

type app struct {
	fs      afero.Fs
	stdin   io.ReadCloser
	stdout  io.Writer
	stderr  io.Writer
	runner  runner.Runner
	chooser prompt.Chooser
	goos    string
	getwd   func() (string, error)

	projectPath string
	configPath  string
	quiet       bool
	debug       bool
}

func newApp() *app {
	return &app{
		fs:      afero.NewOsFs(),
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		runner:  runner.NewExecRunner(nil),
		chooser: &prompt.Terminal{Stdin: os.Stdin, Stdout: os.Stdout},
		goos:    runtime.GOOS,
		getwd:   os.Getwd,
	}
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	a := newApp()
	return a.execute(os.Args[1:])
}

func (a *app) execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := a.rootCommand()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)

	var exitErr *ExitError
	if err != nil && !(errors.As(err, &exitErr) && exitErr.Err == nil) {
		fmt.Fprintln(a.stderr, "Error:", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return orchestrator.ExitSynced
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.Is(err, orchestrator.ErrSyncInProgress):
		return orchestrator.ExitSyncInProgress
	default:
		return orchestrator.ExitConfigError
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "rsync-ssh",
		Short:         "Keep local project folders in sync with remote hosts over rsync and ssh",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if a.debug {
				logger.SetLevel(logger.LevelDebug)
			}
		},
	}

	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.projectPath, "project", "p", "", "project file (default: the single *.rsync-ssh.yaml or *.sublime-project in the working directory)")
	flags.StringVar(&a.configPath, "config", config.DefaultPath, "path to config file")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "only print sync output when something goes wrong")
	flags.BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		a.syncCommand(),
		a.fromRemoteCommand(),
		a.remoteCommand(),
		a.watchCommand(),
		a.initCommand(),
		a.historyCommand(),
		a.cacheCommand(),
		a.daemonCommand(),
		a.publishCommand(),
	)
	return root
}

func (a *app) loadConfig(required bool) (*config.Config, error) {
	path, err := homedir.Expand(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("expand config path: %w", err)
	}
	return config.LoadFromFile(path, required)
}

// project returns the absolute project file path, looking in the working
// directory when --project is not given.
func (a *app) project() (string, error) {
	if a.projectPath != "" {
		expanded, err := homedir.Expand(a.projectPath)
		if err != nil {
			return "", fmt.Errorf("expand project path: %w", err)
		}
		return filepath.Abs(expanded)
	}

	wd, err := a.getwd()
	if err != nil {
		return "", err
	}
	for _, pattern := range projectPatterns {
		matches, err := afero.Glob(a.fs, filepath.Join(wd, pattern))
		if err != nil {
			return "", err
		}
		switch len(matches) {
		case 0:
			continue
		case 1:
			return matches[0], nil
		default:
			return "", fmt.Errorf("more than one project file in %s, use --project", wd)
		}
	}
	return "", fmt.Errorf("no project file found in %s, use --project", wd)
}

func (a *app) loadWorkspace() (*workspace.Workspace, error) {
	project, err := a.project()
	if err != nil {
		return nil, err
	}
	return workspace.Load(a.fs, project)
}

func (a *app) console() *console.Console {
	return console.New(a.stdout, console.WithQuiet(a.quiet), console.WithStatusWriter(a.stderr))
}

// orchestrator wires a one-shot sync run. The returned cleanup closes the
// history store when one was opened.
func (a *app) orchestrator(cfg *config.Config, con *console.Console) (*orchestrator.Orchestrator, func(), error) {
	log := logger.NewDefault()
	pathCache := cache.NewMemory(cfg.Cache.Size, time.Duration(cfg.Cache.TTLSeconds)*time.Second)

	execOpts := []executor.Option{executor.WithCache(pathCache), executor.WithLogger(log), executor.WithGOOS(a.goos)}
	if cfg.Notify.Enabled {
		execOpts = append(execOpts, executor.WithNotifier(
			notify.New(a.runner, notify.WithCommand(cfg.Notify.Command), notify.WithGOOS(a.goos)),
		))
	}
	exec := executor.New(a.runner, con, execOpts...)

	cleanup := func() {}
	orchOpts := []orchestrator.Option{orchestrator.WithFs(a.fs), orchestrator.WithLogger(log)}
	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open history: %w", err)
		}
		orchOpts = append(orchOpts, orchestrator.WithRecorder(store))
		cleanup = func() {
			if err := store.Close(); err != nil {
				log.Error("failed to close history", err, nil)
			}
		}
	}

	return orchestrator.New(exec, con, orchOpts...), cleanup, nil
}
