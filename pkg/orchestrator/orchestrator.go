// Package orchestrator drives one sync invocation: it resolves configuration
// keys to local paths, selects the destinations that take part, runs one job
// per destination concurrently and reports a single summary once all are done.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"rsyncssh/pkg/executor"
	"rsyncssh/pkg/inflight"
	"rsyncssh/pkg/logger"
	"rsyncssh/pkg/resolve"
	"rsyncssh/pkg/runner"
	"rsyncssh/pkg/selector"
	"rsyncssh/pkg/workspace"
)

const (
	StatusKey  = "00000_rsync_ssh_status"
	SummaryKey = "00001_rsync_ssh_summary"
)

var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrSaveIgnored    = errors.New("save does not trigger a sync")
)

type State int

const (
	Idle State = iota
	Resolving
	Dispatching
	AwaitingCompletion
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Resolving:
		return "resolving"
	case Dispatching:
		return "dispatching"
	case AwaitingCompletion:
		return "awaiting_completion"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Workspace interface {
	ListOpenFolders() []string
	Configuration() (*workspace.Settings, error)
}

type Executor interface {
	Execute(ctx context.Context, job *executor.Job) executor.Outcome
}

type Console interface {
	LogLine(host, prefix, text string)
	SetStatus(key, text string)
}

type Recorder interface {
	Record(ctx context.Context, s *Summary) error
}

type Request struct {
	// Project labels the run in history records, usually the project file.
	Project string
	// Path is the saved file or chosen directory; empty syncs whole folders.
	Path       string
	Restrict   selector.Restriction
	Force      bool
	FromRemote bool
	// Keys limits the run to these configuration keys.
	Keys []string
}

type Orchestrator struct {
	executor Executor
	console  Console
	selector *selector.Selector
	inflight inflight.Tracker
	recorder Recorder
	logger   *logger.Logger
	onState  func(State)
}

type Option func(*Orchestrator)

func WithFs(fs afero.Fs) Option {
	return func(o *Orchestrator) { o.selector = selector.New(fs) }
}

func WithInflight(t inflight.Tracker) Option {
	return func(o *Orchestrator) { o.inflight = t }
}

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithStateHook is called on every state transition of every run.
func WithStateHook(fn func(State)) Option {
	return func(o *Orchestrator) { o.onState = fn }
}

func New(exec Executor, console Console, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		executor: exec,
		console:  console,
		selector: selector.New(nil),
		inflight: inflight.NewMemory(),
		logger:   logger.NewDefault(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) enter(s State) {
	if o.onState != nil {
		o.onState(s)
	}
}

// Sync runs req against ws. It returns ErrSyncInProgress when another run
// already holds the same path.
func (o *Orchestrator) Sync(ctx context.Context, ws Workspace, req Request) (*Summary, error) {
	settings, err := ws.Configuration()
	if err != nil {
		o.console.LogLine("", "", "Aborting! - rsync ssh is not configured!")
		return nil, err
	}
	req.Path = resolve.Normalize(req.Path)
	return o.guarded(ctx, guardKey(ws, req.Path), func() *Summary {
		return o.run(ctx, ws.ListOpenFolders(), settings, req)
	})
}

// OnSave is the save hook. It ignores commit message buffers and projects
// with sync_on_save disabled, and widens the run to the whole project when
// sync_all_on_save is set. Overlapping saves of one file are dropped.
func (o *Orchestrator) OnSave(ctx context.Context, ws Workspace, project, saved string) (*Summary, error) {
	settings, err := ws.Configuration()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSaveIgnored, err)
	}
	if !settings.SyncOnSaveEnabled() {
		return nil, fmt.Errorf("%w: sync_on_save is disabled", ErrSaveIgnored)
	}

	saved = resolve.Normalize(saved)
	if path.Base(saved) == "COMMIT_EDITMSG" {
		return nil, fmt.Errorf("%w: commit message", ErrSaveIgnored)
	}

	req := Request{Project: project, Path: saved}
	if settings.SyncAllOnSave {
		req.Path = ""
	}

	summary, err := o.guarded(ctx, saved, func() *Summary {
		o.console.SetStatus(StatusKey, "Sync initiated")
		return o.run(ctx, ws.ListOpenFolders(), settings, req)
	})
	if errors.Is(err, ErrSyncInProgress) {
		o.logger.Debug("sync already in progress", map[string]any{"path": saved})
	}
	return summary, err
}

func guardKey(ws Workspace, p string) string {
	if p != "" {
		return p
	}
	return "folders:" + strings.Join(ws.ListOpenFolders(), "|")
}

func (o *Orchestrator) guarded(ctx context.Context, key string, fn func() *Summary) (*Summary, error) {
	acquired, err := o.inflight.TryAcquire(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("acquire in-progress marker: %w", err)
	}
	if !acquired {
		return nil, ErrSyncInProgress
	}
	defer func() {
		// The run is over even if ctx was cancelled; the marker must go.
		if err := o.inflight.Release(context.WithoutCancel(ctx), key); err != nil {
			o.logger.Error("failed to release in-progress marker", err, map[string]any{"key": key})
		}
	}()
	return fn(), nil
}

func (o *Orchestrator) run(ctx context.Context, folders []string, settings *workspace.Settings, req Request) *Summary {
	summary := &Summary{
		Project:    req.Project,
		FromRemote: req.FromRemote,
		Started:    time.Now(),
	}
	o.enter(Idle)

	o.enter(Resolving)
	keys := settings.Keys()
	if len(req.Keys) > 0 {
		keys = knownKeys(settings, req.Keys)
	}
	res := resolve.Resolve(folders, keys)
	for _, d := range res.Diagnostics {
		if d.Kind == resolve.NoRemotesDefined && len(req.Keys) > 0 {
			continue
		}
		summary.Diagnostics = append(summary.Diagnostics, d)
		o.console.LogLine("", d.Prefix, d.Message)
	}
	jobs := o.buildJobs(res.Paths, settings, req)
	summary.Jobs = len(jobs)

	o.enter(Dispatching)
	o.console.SetStatus(StatusKey, progressMessage(req.FromRemote, len(jobs)))
	o.logger.Debug("dispatching sync jobs", map[string]any{
		"jobs":        len(jobs),
		"path":        req.Path,
		"from_remote": req.FromRemote,
	})

	outcomes := make([]executor.Outcome, len(jobs))
	var g errgroup.Group
	if settings.MaxParallel > 0 {
		g.SetLimit(settings.MaxParallel)
	}
	for i, job := range jobs {
		g.Go(func() error {
			outcomes[i] = o.executor.Execute(ctx, job)
			return nil
		})
	}

	o.enter(AwaitingCompletion)
	_ = g.Wait()

	summary.Outcomes = outcomes
	summary.Duration = time.Since(summary.Started)
	o.enter(Done)

	o.console.LogLine("", "", "done")
	o.console.SetStatus(StatusKey, "")
	o.console.SetStatus(SummaryKey, summary.Message())

	if o.recorder != nil {
		if err := o.recorder.Record(context.WithoutCancel(ctx), summary); err != nil {
			o.logger.Error("failed to record sync history", err, map[string]any{"project": req.Project})
		}
	}
	return summary
}

func knownKeys(settings *workspace.Settings, wanted []string) []string {
	var keys []string
	for _, k := range wanted {
		if _, ok := settings.Remotes[k]; ok {
			keys = append(keys, k)
		}
	}
	return keys
}

func (o *Orchestrator) buildJobs(paths []resolve.Resolution, settings *workspace.Settings, req Request) []*executor.Job {
	ssh := runner.SSH{
		Binary:         settings.SSHBinary,
		ConnectTimeout: settings.TimeoutDuration(),
		ExtraArgs:      settings.SSHArgs,
	}
	specificIsFile := o.selector.Kind(req.Path) == selector.PathFile

	var jobs []*executor.Job
	seen := make(map[string]struct{})
	for _, p := range paths {
		for _, dest := range settings.Remotes[p.Key] {
			if !o.selector.ShouldSync(p.LocalPath, req.Path, dest, req.Restrict) {
				continue
			}
			// Two keys naming one folder must not rsync it twice to the same place.
			id := p.LocalPath + "\x00" + dest.Identity()
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			src, dst := o.selector.SourceDestination(p.LocalPath, req.Path, dest)

			excludes := append(settings.GlobalExcludes(), dest.Excludes...)
			options := append(append([]string{}, settings.Options...), dest.Options...)

			jobs = append(jobs, &executor.Job{
				Key:             p.Key,
				LocalPath:       p.LocalPath,
				Prefix:          p.Prefix,
				Destination:     dest,
				SourcePath:      src,
				DestinationPath: dst,
				Excludes:        excludes,
				Options:         options,
				Timeout:         settings.TimeoutDuration(),
				ForceSync:       req.Force,
				FromRemote:      req.FromRemote,
				SingleFile:      specificIsFile && strings.HasPrefix(req.Path, p.LocalPath+"/"),
				TransferCommand: settings.TransferCommand(dest),
				RsyncPathPrefix: settings.RsyncPathPrefix,
				SSH:             ssh,
			})
		}
	}
	return jobs
}
