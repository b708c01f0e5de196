// Package notify shows desktop notifications by shelling out to the
// platform notifier or a user configured command.
package notify

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"rsyncssh/pkg/runner"
)

const timeout = 5 * time.Second

type Notifier struct {
	runner  runner.Runner
	command []string
	goos    string
}

type Option func(*Notifier)

// WithCommand replaces the platform notifier. Title, subtitle, message and
// group are appended as the last four arguments.
func WithCommand(command string) Option {
	return func(n *Notifier) { n.command = strings.Fields(command) }
}

func WithGOOS(goos string) Option {
	return func(n *Notifier) { n.goos = goos }
}

func New(r runner.Runner, opts ...Option) *Notifier {
	n := &Notifier{runner: r, goos: runtime.GOOS}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Notifier) buildCommand(title, subtitle, message, group string) (runner.Command, bool) {
	if len(n.command) > 0 {
		args := append(append([]string{}, n.command[1:]...), title, subtitle, message, group)
		return runner.Command{Name: n.command[0], Args: args, Timeout: timeout}, true
	}

	switch n.goos {
	case "darwin":
		return runner.Command{
			Name:    "terminal-notifier",
			Args:    []string{"-title", title, "-subtitle", subtitle, "-message", message, "-group", group},
			Timeout: timeout,
		}, true
	case "linux", "freebsd", "openbsd", "netbsd":
		summary := title
		if subtitle != "" {
			summary += ": " + subtitle
		}
		return runner.Command{
			Name:    "notify-send",
			Args:    []string{"--app-name", group, summary, message},
			Timeout: timeout,
		}, true
	}
	return runner.Command{}, false
}

// Notify is a no-op on platforms without a known notifier.
func (n *Notifier) Notify(ctx context.Context, title, subtitle, message, group string) error {
	cmd, ok := n.buildCommand(title, subtitle, message, group)
	if !ok {
		return nil
	}
	if _, err := n.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("notify via %s: %w", cmd.Name, err)
	}
	return nil
}
