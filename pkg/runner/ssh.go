package runner

import (
	"strconv"
	"strings"
	"time"
)

// SSH builds ssh invocations: quiet, no pseudo-terminal, bounded connect time.
type SSH struct {
	Binary         string
	ConnectTimeout time.Duration
	ExtraArgs      []string
}

func (s SSH) connectTimeoutSeconds() int {
	secs := int(s.ConnectTimeout / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Argv is the ssh client prefix for a destination port, binary first.
func (s SSH) Argv(port int) []string {
	argv := []string{
		s.Binary, "-q", "-T",
		"-o", "ConnectTimeout=" + strconv.Itoa(s.connectTimeoutSeconds()),
	}
	if port > 0 {
		argv = append(argv, "-p", strconv.Itoa(port))
	}
	return append(argv, s.ExtraArgs...)
}

// Shell is Argv joined for rsync's -e option.
func (s SSH) Shell(port int) string {
	return strings.Join(s.Argv(port), " ")
}

// Remote runs script on target through the remote login shell.
func (s SSH) Remote(target string, port int, script string, timeout time.Duration) Command {
	argv := s.Argv(port)
	args := append(argv[1:], target, script)
	return Command{Name: argv[0], Args: args, Timeout: timeout}
}
