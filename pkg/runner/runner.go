// Package runner executes external commands as argument vectors and captures
// their merged stdout and stderr.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"rsyncssh/pkg/logger"
)

var ErrTimeout = errors.New("command timed out")

type Command struct {
	Name string
	Args []string
	// Timeout bounds the whole run; zero means no limit.
	Timeout time.Duration
}

func (c Command) Argv() []string {
	return append([]string{c.Name}, c.Args...)
}

func (c Command) String() string {
	return strings.Join(c.Argv(), " ")
}

type Result struct {
	Output   string
	ExitCode int
	Duration time.Duration
}

// ExitError is returned when the command ran but exited non-zero.
type ExitError struct {
	Code    int
	Command string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
}

type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

type ExecRunner struct {
	logger *logger.Logger
}

func NewExecRunner(l *logger.Logger) *ExecRunner {
	if l == nil {
		l = logger.NewDefault()
	}
	return &ExecRunner{logger: l}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	if c.Name == "" {
		return Result{}, fmt.Errorf("empty command")
	}

	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Name, c.Args...)
	cmd.WaitDelay = time.Second

	start := time.Now()
	output, err := cmd.CombinedOutput()
	res := Result{Output: string(output), Duration: time.Since(start)}

	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			res.ExitCode = -1
			r.logger.Debug("command timed out", map[string]any{
				"command":  c.String(),
				"duration": res.Duration,
				"timeout":  c.Timeout,
			})
			return res, fmt.Errorf("%w after %s: %s", ErrTimeout, c.Timeout, c.Name)
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			r.logger.Debug("command failed", map[string]any{
				"command":   c.String(),
				"duration":  res.Duration,
				"exit_code": res.ExitCode,
			})
			return res, &ExitError{Code: res.ExitCode, Command: c.Name}
		}

		res.ExitCode = -1
		return res, fmt.Errorf("run %s: %w", c.Name, err)
	}

	r.logger.Debug("command finished", map[string]any{
		"command":  c.String(),
		"duration": res.Duration,
	})
	return res, nil
}
