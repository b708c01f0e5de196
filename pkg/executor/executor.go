// Package executor runs one sync job: rsync discovery on the remote, the
// optional pre command, the transfer and the optional post command.
package executor

import (
	"context"
	"errors"
	"fmt"
	"path"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"rsyncssh/pkg/cache"
	"rsyncssh/pkg/logger"
	"rsyncssh/pkg/runner"
)

const notifyTitle = "Rsync SSH"

type Console interface {
	LogLine(host, prefix, text string)
	Show()
}

type Notifier interface {
	Notify(ctx context.Context, title, subtitle, message, group string) error
}

type Executor struct {
	runner     runner.Runner
	console    Console
	cache      cache.RsyncPathCache
	notifier   Notifier
	knownHosts []string
	goos       string
	logger     *logger.Logger
	discovery  singleflight.Group
}

type Option func(*Executor)

func WithCache(c cache.RsyncPathCache) Option {
	return func(e *Executor) { e.cache = c }
}

func WithNotifier(n Notifier) Option {
	return func(e *Executor) { e.notifier = n }
}

// WithKnownHosts names the known_hosts files consulted when a host key
// looks unaccepted.
func WithKnownHosts(files ...string) Option {
	return func(e *Executor) { e.knownHosts = files }
}

// WithGOOS sets the local platform. On windows local paths are converted
// with cygpath for a cygwin rsync.
func WithGOOS(goos string) Option {
	return func(e *Executor) { e.goos = goos }
}

func WithLogger(l *logger.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func New(r runner.Runner, c Console, opts ...Option) *Executor {
	e := &Executor{
		runner:  r,
		console: c,
		goos:    runtime.GOOS,
		logger:  logger.NewDefault(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) log(job *Job, text string) {
	e.console.LogLine(job.Host(), job.Prefix, text)
}

func (e *Executor) Execute(ctx context.Context, job *Job) (out Outcome) {
	out = Outcome{
		Key:             job.Key,
		Host:            job.Host(),
		Prefix:          job.Prefix,
		Identity:        job.Destination.Identity(),
		SourcePath:      job.SourcePath,
		DestinationPath: job.DestinationPath,
		FromRemote:      job.FromRemote,
		DryRun:          isDryRun(job.Options),
		Started:         time.Now(),
	}
	defer func() { out.Duration = time.Since(out.Started) }()

	if !job.Destination.IsEnabled() && !job.ForceSync {
		e.log(job, "Skipping, destination is disabled.")
		out.Kind = KindSkipped
		return out
	}

	if e.goos == "windows" {
		converted, err := e.cygpath(ctx, job)
		if err != nil {
			e.fail(ctx, job, &out, err)
			return out
		}
		job = converted
	}

	rsyncPath, err := e.discover(ctx, job)
	if err != nil {
		e.fail(ctx, job, &out, err)
		return out
	}

	if cmd := job.Destination.RemotePreCommand; cmd != "" {
		if warn := e.remoteCommand(ctx, job, "pre", cmd, preCommandScript(job.Destination.RemotePath, cmd)); warn != nil {
			out.Warnings = append(out.Warnings, warn)
		}
	}

	e.transfer(ctx, job, rsyncPath, &out)

	if cmd := job.Destination.RemotePostCommand; cmd != "" {
		if warn := e.remoteCommand(ctx, job, "post", cmd, postCommandScript(job.Destination.RemotePath, cmd)); warn != nil {
			out.Warnings = append(out.Warnings, warn)
		}
	}

	return out
}

// cygpath returns a copy of job with its local path in cygwin form.
func (e *Executor) cygpath(ctx context.Context, job *Job) (*Job, *SyncError) {
	local := strings.TrimRight(job.SourcePath, "/")
	res, err := e.runner.Run(ctx, runner.Command{Name: "cygpath", Args: []string{local}})
	if err != nil {
		msg := "ERROR: Failed to run cygpath to convert local file path. Can't continue."
		e.log(job, msg)
		if output := strings.TrimSpace(res.Output); output != "" {
			e.log(job, output)
		}
		return nil, &SyncError{Kind: KindTransferFailed, Message: msg, Cause: err}
	}

	converted := *job
	converted.SourcePath = strings.TrimSpace(res.Output)
	if strings.HasSuffix(job.SourcePath, "/") {
		converted.SourcePath += "/"
	}
	return &converted, nil
}

func (e *Executor) fail(ctx context.Context, job *Job, out *Outcome, err *SyncError) {
	out.Kind = err.Kind
	out.Err = err
	e.console.Show()
	e.notify(ctx, job, err)
}

func (e *Executor) notify(ctx context.Context, job *Job, err *SyncError) {
	if e.notifier == nil {
		return
	}
	message, _, _ := strings.Cut(err.Message, "\n")
	if nerr := e.notifier.Notify(ctx, notifyTitle, job.Host(), message, "rsync-ssh"); nerr != nil {
		e.logger.Warn("desktop notification failed", map[string]any{
			"host":  job.Host(),
			"error": nerr.Error(),
		})
	}
}

func discoveryCacheKey(job *Job) string {
	parts := []string{job.SSH.Binary, job.Destination.Target() + ":" + strconv.Itoa(job.Destination.Port())}
	return strings.Join(append(parts, job.SSH.ExtraArgs...), " ")
}

// discover locates rsync on the remote. Results are cached and concurrent
// jobs for the same remote share one round-trip.
func (e *Executor) discover(ctx context.Context, job *Job) (string, *SyncError) {
	key := discoveryCacheKey(job)

	if e.cache != nil {
		entry, err := e.cache.Get(ctx, key)
		if err == nil {
			return entry.RsyncPath, nil
		}
		var miss *cache.Miss
		if !errors.As(err, &miss) {
			e.logger.Warn("rsync path cache lookup failed", map[string]any{"target": key, "error": err.Error()})
		}
	}

	v, err, _ := e.discovery.Do(key, func() (any, error) {
		return e.runDiscovery(context.WithoutCancel(ctx), job)
	})
	if err != nil {
		var syncErr *SyncError
		if !errors.As(err, &syncErr) {
			syncErr = &SyncError{Kind: KindRemoteUnreachable, Message: "ERROR: " + err.Error(), Cause: err}
		}
		for _, line := range strings.Split(syncErr.Message, "\n") {
			e.log(job, line)
		}
		return "", syncErr
	}
	rsyncPath := v.(string)

	if e.cache != nil {
		if err := e.cache.Set(ctx, key, rsyncPath); err != nil {
			e.logger.Warn("rsync path cache store failed", map[string]any{"target": key, "error": err.Error()})
		}
	}
	return rsyncPath, nil
}

// runDiscovery is shared by every job waiting on the same remote, so it
// reports through the returned error only. Each message line is logged by
// the callers under their own label.
func (e *Executor) runDiscovery(ctx context.Context, job *Job) (string, error) {
	host := job.Host()
	cmd := job.SSH.Remote(job.Destination.Target(), job.Destination.Port(), discoveryScript, job.Timeout)

	res, err := e.runner.Run(ctx, cmd)
	if err != nil {
		output := strings.TrimRight(res.Output, "\n")

		if errors.Is(err, runner.ErrTimeout) {
			msg := fmt.Sprintf("ERROR: Timed out connecting to %s after %s", host, job.Timeout)
			return "", &SyncError{Kind: KindRemoteUnreachable, Message: msg, Cause: err}
		}

		var exitErr *runner.ExitError
		if !errors.As(err, &exitErr) {
			return "", &SyncError{Kind: KindRemoteUnreachable, Message: "ERROR: " + err.Error(), Cause: err}
		}

		switch {
		case exitErr.Code == 255 && strings.TrimSpace(output) == "":
			lines := []string{
				"ERROR: ssh check command failed, have you accepted the remote host key?",
				"       Try running the ssh command manually in a terminal:",
				"       " + cmd.String(),
			}
			if listed, kerr := hostListed(e.knownHosts, host, job.Destination.Port()); kerr == nil && !listed && len(e.knownHosts) > 0 {
				lines = append(lines, "       No known_hosts entry was found for "+host+".")
			}
			return "", &SyncError{Kind: KindHostKeyNotAccepted, Message: strings.Join(lines, "\n"), Cause: err}
		case exitErr.Code == 255:
			return "", &SyncError{Kind: KindRemoteUnreachable, Message: "ERROR: " + output, Cause: err}
		default:
			msg := "ERROR: Unable to locate rsync on " + host
			if output != "" {
				msg += "\n" + output
			}
			return "", &SyncError{Kind: KindRemoteBinaryMissing, Message: msg, Cause: err}
		}
	}

	rsyncPath := lastLine(res.Output)
	if !strings.HasSuffix(rsyncPath, "/rsync") {
		return "", &SyncError{
			Kind:    KindRemoteBinaryMissing,
			Message: "ERROR: Unable to locate rsync on " + host + "\n" + rsyncPath,
		}
	}

	e.logger.Debug("discovered remote rsync", map[string]any{"host": host, "rsync_path": rsyncPath})
	return rsyncPath, nil
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// remoteCommand runs a pre or post command. Failures are reported but never
// stop the job.
func (e *Executor) remoteCommand(ctx context.Context, job *Job, phase, cmd, script string) *SyncError {
	e.log(job, "Running "+phase+" command: "+cmd)

	res, err := e.runner.Run(ctx, job.SSH.Remote(job.Destination.Target(), job.Destination.Port(), script, 0))
	output := filterShellNoise(res.Output)
	if err != nil {
		e.console.Show()
		e.log(job, "ERROR: "+output+"\n")
		return &SyncError{
			Kind:    KindPreOrPostCommandFailed,
			Message: fmt.Sprintf("%s command failed: %s", phase, output),
			Cause:   err,
		}
	}

	if output != "" {
		e.log(job, output)
	}
	return nil
}

func (e *Executor) transfer(ctx context.Context, job *Job, rsyncPath string, out *Outcome) {
	t := buildTransfer(job, rsyncPath)
	e.log(job, t.display)

	res, err := e.runner.Run(ctx, t.cmd)
	out.Output = res.Output

	if err == nil {
		e.log(job, strings.TrimRight(relativeOutput(job, res.Output), "\n"))
		if t.dryRun {
			e.log(job, "NOTICE: Nothing synced. Remove --dry-run from options to sync.")
		}
		out.Kind = KindSynced
		return
	}

	if t.dryRun && strings.Contains(res.Output, "No such file or directory") {
		msg := "WARNING: Unable to do dry run, remote directory " + path.Dir(job.DestinationPath) + " does not exist."
		e.console.Show()
		e.log(job, msg)
		out.Kind = KindDryRunMissingRemoteDir
		out.Err = &SyncError{Kind: KindDryRunMissingRemoteDir, Message: msg, Cause: err}
		return
	}

	e.log(job, "ERROR: "+res.Output+"\n")
	if e.cache != nil {
		if cerr := e.cache.Invalidate(ctx, discoveryCacheKey(job)); cerr != nil {
			e.logger.Warn("rsync path cache invalidation failed", map[string]any{"error": cerr.Error()})
		}
	}
	e.fail(ctx, job, out, &SyncError{
		Kind:    KindTransferFailed,
		Message: "rsync to " + job.Destination.Identity() + " failed",
		Cause:   err,
	})
}
