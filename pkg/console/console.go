// Package console renders user-facing sync output. Every line is tagged with
// "[rsync-ssh]" and, when known, the destination host and folder label.
package console

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
)

const tag = "[rsync-ssh] "

func label(host, prefix string) string {
	switch {
	case host != "" && prefix != "":
		return host + "[" + prefix + "]: "
	case host != "":
		return host + ": "
	case prefix != "":
		return path.Base(prefix) + ": "
	}
	return ""
}

// Format returns output tagged for the console, re-tagging every embedded newline.
func Format(host, prefix, output string) string {
	head := tag + label(host, prefix)
	return head + strings.ReplaceAll(output, "\n", "\n"+head)
}

// Console is safe for concurrent use by the jobs of one sync run.
//
// In quiet mode lines are held back until Show is called, which mirrors an
// editor panel that only pops up when something needs attention.
type Console struct {
	mu       sync.Mutex
	out      io.Writer
	status   io.Writer
	quiet    bool
	shown    bool
	pending  []string
	statuses map[string]string
}

type Option func(*Console)

func WithQuiet(quiet bool) Option {
	return func(c *Console) { c.quiet = quiet }
}

func WithStatusWriter(w io.Writer) Option {
	return func(c *Console) { c.status = w }
}

func New(out io.Writer, opts ...Option) *Console {
	if out == nil {
		out = os.Stdout
	}
	c := &Console{
		out:      out,
		statuses: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Console) LogLine(host, prefix, text string) {
	line := Format(host, prefix, text)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet && !c.shown {
		c.pending = append(c.pending, line)
		return
	}
	fmt.Fprintln(c.out, line)
}

func (c *Console) Show() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shown {
		return
	}
	c.shown = true
	for _, line := range c.pending {
		fmt.Fprintln(c.out, line)
	}
	c.pending = nil
}

// SetStatus records transient status text under key; empty text clears it.
func (c *Console) SetStatus(key, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if text == "" {
		delete(c.statuses, key)
		return
	}
	c.statuses[key] = text
	if c.status != nil {
		fmt.Fprintln(c.status, text)
	}
}

func (c *Console) Status(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses[key]
}
