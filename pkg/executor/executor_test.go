package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rsyncssh/pkg/cache"
	"rsyncssh/pkg/runner"
	"rsyncssh/pkg/workspace"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(_ context.Context, cmd runner.Command) (runner.Result, error) {
	args := m.Called(cmd)
	return args.Get(0).(runner.Result), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(_ context.Context, title, subtitle, message, group string) error {
	return m.Called(title, subtitle, message, group).Error(0)
}

type recordingConsole struct {
	mu    sync.Mutex
	lines []string
	shown int
}

func (c *recordingConsole) LogLine(host, prefix, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, host+"|"+prefix+"|"+text)
}

func (c *recordingConsole) Show() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shown++
}

func (c *recordingConsole) text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.lines, "\n")
}

func isDiscovery(c runner.Command) bool {
	return strings.HasSuffix(c.String(), discoveryScript)
}

func isTransfer(c runner.Command) bool {
	return c.Name == "rsync"
}

func scriptContains(fragment string) func(runner.Command) bool {
	return func(c runner.Command) bool {
		return c.Name == "ssh" && strings.Contains(c.String(), fragment)
	}
}

func ok(output string) runner.Result {
	return runner.Result{Output: output}
}

func failed(output string, code int) (runner.Result, error) {
	return runner.Result{Output: output, ExitCode: code}, &runner.ExitError{Code: code, Command: "x"}
}

func newJob() *Job {
	return &Job{
		Key:             "proj",
		LocalPath:       "/home/u/proj",
		Prefix:          "proj",
		Destination:     workspace.Destination{RemoteHost: "web1", RemoteUser: "deploy", RemotePath: "/srv/proj"},
		SourcePath:      "/home/u/proj/",
		DestinationPath: "/srv/proj",
		Excludes:        []string{".DS_Store"},
		Timeout:         10 * time.Second,
		TransferCommand: "rsync",
		SSH:             runner.SSH{Binary: "ssh", ConnectTimeout: 10 * time.Second},
	}
}

func TestExecuteSkipsDisabledDestination(t *testing.T) {
	r := &mockRunner{}
	con := &recordingConsole{}
	off := workspace.Flag(false)
	job := newJob()
	job.Destination.Enabled = &off

	out := New(r, con).Execute(context.Background(), job)

	assert.Equal(t, KindSkipped, out.Kind)
	assert.False(t, out.Failed())
	assert.Contains(t, con.text(), "web1|proj|Skipping, destination is disabled.")
	r.AssertNotCalled(t, "Run", mock.Anything)
}

func TestExecuteForcesDisabledDestination(t *testing.T) {
	r := &mockRunner{}
	r.On("Run", mock.MatchedBy(isDiscovery)).Return(ok("/usr/bin/rsync\n"), nil).Once()
	r.On("Run", mock.MatchedBy(isTransfer)).Return(ok("sent 10 bytes\n"), nil).Once()

	off := workspace.Flag(false)
	job := newJob()
	job.Destination.Enabled = &off
	job.ForceSync = true

	out := New(r, &recordingConsole{}).Execute(context.Background(), job)

	assert.Equal(t, KindSynced, out.Kind)
	r.AssertExpectations(t)
}

func TestExecuteTransferArguments(t *testing.T) {
	var captured runner.Command
	r := &mockRunner{}
	r.On("Run", mock.MatchedBy(isDiscovery)).Return(ok("/usr/bin/rsync\n"), nil)
	r.On("Run", mock.MatchedBy(isTransfer)).Return(ok(""), nil).Run(func(args mock.Arguments) {
		captured = args.Get(0).(runner.Command)
	})

	job := newJob()
	job.Options = []string{"--delete", "--chmod=ugo=rwX", "--exclude-from .rsyncignore"}
	job.Excludes = []string{".DS_Store", ".git*", ".git*", "node_modules"}

	out := New(r, &recordingConsole{}).Execute(context.Background(), job)
	require.Equal(t, KindSynced, out.Kind)

	assert.Equal(t, []string{
		"-v", "-zar", "-e", "ssh -q -T -o ConnectTimeout=10 -p 22",
		"--delete", "--chmod=ugo=rwX", "--exclude-from", ".rsyncignore",
		"/home/u/proj/", "deploy@web1:/srv/proj",
		"--exclude=.DS_Store", "--exclude=.git*", "--exclude=node_modules",
		"--rsync-path", "mkdir -p /srv && /usr/bin/rsync",
	}, captured.Args)
}

func TestExecuteExcludeFlagsMatchMergedSet(t *testing.T) {
	global := []string{".DS_Store", "*.log", "build"}
	local := []string{"build", "tmp", "*.log"}

	job := newJob()
	job.Excludes = append(append([]string{}, global...), local...)
	job.Options = []string{"--dry-run"}

	tr := buildTransfer(job, "/usr/bin/rsync")

	got := map[string]struct{}{}
	for _, arg := range tr.cmd.Args {
		if strings.HasPrefix(arg, "--exclude=") {
			_, dup := got[arg]
			assert.False(t, dup, "duplicate flag %s", arg)
			got[arg] = struct{}{}
		}
	}
	want := map[string]struct{}{}
	for _, e := range job.Excludes {
		want["--exclude="+e] = struct{}{}
	}
	assert.Equal(t, want, got)
}

func TestExecuteDryRun(t *testing.T) {
	var captured runner.Command
	r := &mockRunner{}
	r.On("Run", mock.MatchedBy(isDiscovery)).Return(ok("/usr/bin/rsync\n"), nil)
	r.On("Run", mock.MatchedBy(isTransfer)).Return(ok("would send main.go\n"), nil).Run(func(args mock.Arguments) {
		captured = args.Get(0).(runner.Command)
	})
	con := &recordingConsole{}

	job := newJob()
	job.Options = []string{"--dry-run"}

	out := New(r, con).Execute(context.Background(), job)

	assert.Equal(t, KindSynced, out.Kind)
	assert.True(t, out.DryRun)
	assert.NotContains(t, captured.Args, "--rsync-path")
	for _, arg := range captured.Args {
		assert.NotContains(t, arg, "mkdir -p")
	}
	assert.Contains(t, con.text(), "NOTICE: Nothing synced. Remove --dry-run from options to sync.")
}

func TestExecuteDryRunMissingRemoteDir(t *testing.T) {
	r := &mockRunner{}
	r.On("Run", mock.MatchedBy(isDiscovery)).Return(ok("/usr/bin/rsync\n"), nil)
	r.On("Run", mock.MatchedBy(isTransfer)).Return(failed("rsync: change_dir#3 \"/srv/proj\" failed: No such file or directory (2)\n", 3))
	con := &recordingConsole{}

	job := newJob()
	job.Options = []string{"--dry-run", "--delete"}

	out := New(r, con).Execute(context.Background(), job)

	assert.Equal(t, KindDryRunMissingRemoteDir, out.Kind)
	assert.False(t, out.Failed())
	assert.True(t, out.Succeeded())
	kind, found := KindOf(out.Err)
	require.True(t, found)
	assert.Equal(t, KindDryRunMissingRemoteDir, kind)
	assert.Contains(t, con.text(), "WARNING: Unable to do dry run, remote directory /srv does not exist.")
}

func TestExecuteMissingDirWithoutDryRunIsTransferFailure(t *testing.T) {
	r := &mockRunner{}
	r.On("Run", mock.MatchedBy(isDiscovery)).Return(ok("/usr/bin/rsync\n"), nil)
	r.On("Run", mock.MatchedBy(isTransfer)).Return(failed("No such file or directory\n", 23))
	con := &recordingConsole{}

	out := New(r, con).Execute(context.Background(), newJob())

	assert.Equal(t, KindTransferFailed, out.Kind)
	assert.True(t, out.Failed())
	assert.Equal(t, 1, con.shown)
	assert.Contains(t, con.text(), "ERROR: No such file or directory")
}

func TestExecuteDiscoveryFailures(t *testing.T) {
	tests := []struct {
		name     string
		result   runner.Result
		err      error
		wantKind Kind
		wantLine string
	}{
		{
			name:     "timeout",
			err:      runner.ErrTimeout,
			wantKind: KindRemoteUnreachable,
			wantLine: "ERROR: Timed out connecting to web1 after 10s",
		},
		{
			name:     "host key not accepted",
			result:   runner.Result{ExitCode: 255},
			err:      &runner.ExitError{Code: 255},
			wantKind: KindHostKeyNotAccepted,
			wantLine: "ERROR: ssh check command failed, have you accepted the remote host key?",
		},
		{
			name:     "connection refused",
			result:   runner.Result{Output: "ssh: connect to host web1 port 22: Connection refused\n", ExitCode: 255},
			err:      &runner.ExitError{Code: 255},
			wantKind: KindRemoteUnreachable,
			wantLine: "ERROR: ssh: connect to host web1 port 22: Connection refused",
		},
		{
			name:     "which finds nothing",
			result:   runner.Result{ExitCode: 1},
			err:      &runner.ExitError{Code: 1},
			wantKind: KindRemoteBinaryMissing,
			wantLine: "ERROR: Unable to locate rsync on web1",
		},
		{
			name:     "unexpected path",
			result:   runner.Result{Output: "/usr/bin/rsync-wrapper\n"},
			wantKind: KindRemoteBinaryMissing,
			wantLine: "ERROR: Unable to locate rsync on web1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &mockRunner{}
			r.On("Run", mock.MatchedBy(isDiscovery)).Return(tt.result, tt.err)
			n := &mockNotifier{}
			n.On("Notify", "Rsync SSH", "web1", mock.AnythingOfType("string"), "rsync-ssh").Return(nil).Once()
			con := &recordingConsole{}

			out := New(r, con, WithNotifier(n)).Execute(context.Background(), newJob())

			assert.Equal(t, tt.wantKind, out.Kind)
			assert.True(t, out.Failed())
			assert.Contains(t, con.text(), tt.wantLine)
			r.AssertNotCalled(t, "Run", mock.MatchedBy(isTransfer))
			n.AssertExpectations(t)
		})
	}
}

func TestExecuteHostKeyHintShowsCommand(t *testing.T) {
	r := &mockRunner{}
	r.On("Run", mock.MatchedBy(isDiscovery)).Return(runner.Result{ExitCode: 255}, &runner.ExitError{Code: 255})
	con := &recordingConsole{}

	New(r, con).Execute(context.Background(), newJob())

	assert.Contains(t, con.text(), "       ssh -q -T -o ConnectTimeout=10 -p 22 deploy@web1 LANG=C which rsync")
}

func TestExecuteSharedDiscoveryLogsForEveryJob(t *testing.T) {
	r := &mockRunner{}
	r.On("Run", mock.MatchedBy(isDiscovery)).Return(runner.Result{ExitCode: 255}, &runner.ExitError{Code: 255}).
		After(50 * time.Millisecond)
	con := &recordingConsole{}
	e := New(r, con)

	first := newJob()
	second := newJob()
	second.Key = "web"
	second.Prefix = "web"

	var wg sync.WaitGroup
	outs := make([]Outcome, 2)
	for i, job := range []*Job{first, second} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outs[i] = e.Execute(context.Background(), job)
		}()
	}
	wg.Wait()

	for _, out := range outs {
		assert.Equal(t, KindHostKeyNotAccepted, out.Kind)
	}
	text := con.text()
	assert.Contains(t, text, "web1|proj|ERROR: ssh check command failed, have you accepted the remote host key?")
	assert.Contains(t, text, "web1|web|ERROR: ssh check command failed, have you accepted the remote host key?")
	assert.Contains(t, text, "web1|proj|       Try running the ssh command manually in a terminal:")
	assert.Contains(t, text, "web1|web|       Try running the ssh command manually in a terminal:")
}

func TestExecuteConvertsLocalPathOnWindows(t *testing.T) {
	var captured runner.Command
	r := &mockRunner{}
	r.On("Run", runner.Command{Name: "cygpath", Args: []string{"C:/Users/u/proj"}}).
		Return(ok("/cygdrive/c/Users/u/proj\n"), nil).Once()
	r.On("Run", mock.MatchedBy(isDiscovery)).Return(ok("/usr/bin/rsync\n"), nil)
	r.On("Run", mock.MatchedBy(isTransfer)).Return(ok(""), nil).Run(func(args mock.Arguments) {
		captured = args.Get(0).(runner.Command)
	})

	job := newJob()
	job.LocalPath = "C:/Users/u/proj"
	job.SourcePath = "C:/Users/u/proj/"

	out := New(r, &recordingConsole{}, WithGOOS("windows")).Execute(context.Background(), job)

	require.Equal(t, KindSynced, out.Kind)
	assert.Contains(t, captured.Args, "/cygdrive/c/Users/u/proj/")
	assert.NotContains(t, captured.Args, "C:/Users/u/proj/")
	r.AssertExpectations(t)
}

func TestExecuteCygpathFailure(t *testing.T) {
	r := &mockRunner{}
	r.On("Run", mock.MatchedBy(func(c runner.Command) bool { return c.Name == "cygpath" })).
		Return(failed("cygpath: can't convert empty path\n", 1))
	con := &recordingConsole{}

	job := newJob()
	job.SourcePath = "C:/Users/u/proj/"

	out := New(r, con, WithGOOS("windows")).Execute(context.Background(), job)

	assert.Equal(t, KindTransferFailed, out.Kind)
	assert.Equal(t, 1, con.shown)
	assert.Contains(t, con.text(), "web1|proj|ERROR: Failed to run cygpath to convert local file path. Can't continue.")
	assert.Contains(t, con.text(), "web1|proj|cygpath: can't convert empty path")
	r.AssertNotCalled(t, "Run", mock.MatchedBy(isDiscovery))
	r.AssertNotCalled(t, "Run", mock.MatchedBy(isTransfer))
}

func TestExecuteSkipsCygpathOffWindows(t *testing.T) {
	r := &mockRunner{}
	r.On("Run", mock.MatchedBy(isDiscovery)).Return(ok("/usr/bin/rsync\n"), nil)
	r.On("Run", mock.MatchedBy(isTransfer)).Return(ok(""), nil)

	out := New(r, &recordingConsole{}, WithGOOS("linux")).Execute(context.Background(), newJob())

	assert.Equal(t, KindSynced, out.Kind)
	r.AssertNotCalled(t, "Run", mock.MatchedBy(func(c runner.Command) bool { return c.Name == "cygpath" }))
}

func TestExecutePrePostCommands(t *testing.T) {
	r := &mockRunner{}
	r.On("Run", mock.MatchedBy(isDiscovery)).Return(ok("/usr/bin/rsync\n"), nil)
	r.On("Run", mock.MatchedBy(scriptContains(`LANG=C cd /srv/proj && make stop`))).
		Return(failed("bash: no job control in this shell\nmake: *** No rule to make target 'stop'.\n", 2))
	r.On("Run", mock.MatchedBy(isTransfer)).Return(failed("rsync error: some files could not be transferred\n", 23))
	r.On("Run", mock.MatchedBy(scriptContains(`LANG=C cd /srv/proj && make start`))).
		Return(ok("bash: no job control in this shell\nstarted\n"), nil)
	con := &recordingConsole{}

	job := newJob()
	job.Destination.RemotePreCommand = "make stop"
	job.Destination.RemotePostCommand = "make start"

	out := New(r, con).Execute(context.Background(), job)

	assert.Equal(t, KindTransferFailed, out.Kind)
	require.Len(t, out.Warnings, 1)
	assert.Equal(t, KindPreOrPostCommandFailed, out.Warnings[0].Kind)

	text := con.text()
	assert.Contains(t, text, "Running pre command: make stop")
	assert.Contains(t, text, "Running post command: make start")
	assert.Contains(t, text, "web1|proj|started")
	assert.NotContains(t, text, "no job control")
	r.AssertExpectations(t)
}

func TestExecuteCachesDiscovery(t *testing.T) {
	r := &mockRunner{}
	r.On("Run", mock.MatchedBy(isDiscovery)).Return(ok("/opt/bin/rsync\n"), nil).Once()
	r.On("Run", mock.MatchedBy(isTransfer)).Return(ok(""), nil).Twice()
	c := cache.NewMemory(8, time.Minute)

	e := New(r, &recordingConsole{}, WithCache(c))
	assert.Equal(t, KindSynced, e.Execute(context.Background(), newJob()).Kind)
	assert.Equal(t, KindSynced, e.Execute(context.Background(), newJob()).Kind)

	r.AssertExpectations(t)
	entry, err := c.Get(context.Background(), "ssh deploy@web1:22")
	require.NoError(t, err)
	assert.Equal(t, "/opt/bin/rsync", entry.RsyncPath)
}

func TestExecuteTransferFailureInvalidatesCache(t *testing.T) {
	r := &mockRunner{}
	r.On("Run", mock.MatchedBy(isTransfer)).Return(failed("rsync: command not found\n", 127))
	c := cache.NewMemory(8, time.Minute)
	require.NoError(t, c.Set(context.Background(), "ssh deploy@web1:22", "/gone/rsync"))

	out := New(r, &recordingConsole{}, WithCache(c)).Execute(context.Background(), newJob())

	assert.Equal(t, KindTransferFailed, out.Kind)
	_, err := c.Get(context.Background(), "ssh deploy@web1:22")
	var miss *cache.Miss
	assert.True(t, errors.As(err, &miss))
}

func TestExecuteFromRemote(t *testing.T) {
	var captured runner.Command
	r := &mockRunner{}
	r.On("Run", mock.MatchedBy(isDiscovery)).Return(ok("/usr/bin/rsync\n"), nil)
	r.On("Run", mock.MatchedBy(isTransfer)).Return(ok(""), nil).Run(func(args mock.Arguments) {
		captured = args.Get(0).(runner.Command)
	})

	job := newJob()
	job.FromRemote = true
	job.Destination.RemotePath = "/srv/my proj"
	job.DestinationPath = "/srv/my proj"

	New(r, &recordingConsole{}).Execute(context.Background(), job)

	n := len(captured.Args)
	require.GreaterOrEqual(t, n, 3)
	assert.Equal(t, []string{"deploy@web1:'/srv/my proj/'", "/home/u/proj/", "--exclude=.DS_Store"}, captured.Args[n-3:])
	assert.NotContains(t, captured.Args, "--rsync-path")
}

func TestExecuteRsyncPathPrefix(t *testing.T) {
	tests := []struct {
		name    string
		options []string
		want    string
	}{
		{name: "real run", want: "mkdir -p /srv && sudo /usr/bin/rsync"},
		{name: "dry run", options: []string{"--dry-run"}, want: "sudo /usr/bin/rsync"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := newJob()
			job.Options = tt.options
			job.RsyncPathPrefix = "sudo"

			args := buildTransfer(job, "/usr/bin/rsync").cmd.Args

			require.Equal(t, "--rsync-path", args[len(args)-2])
			assert.Equal(t, tt.want, args[len(args)-1])
		})
	}
}

func TestExecuteRewritesSingleFileOutput(t *testing.T) {
	r := &mockRunner{}
	r.On("Run", mock.MatchedBy(isDiscovery)).Return(ok("/usr/bin/rsync\n"), nil)
	r.On("Run", mock.MatchedBy(isTransfer)).Return(ok("sending incremental file list\nutil.go\n"), nil)
	con := &recordingConsole{}

	job := newJob()
	job.SourcePath = "/home/u/proj/sub/util.go"
	job.DestinationPath = "/srv/proj/sub/util.go"
	job.SingleFile = true

	New(r, con).Execute(context.Background(), job)

	assert.Contains(t, con.text(), "sending incremental file list\nsub/util.go")
}

func TestRelativeOutputMatchesWholeLines(t *testing.T) {
	job := newJob()
	job.SourcePath = "/home/u/proj/src/a.go"
	job.DestinationPath = "/srv/proj/src/a.go"
	job.SingleFile = true

	got := relativeOutput(job, "sending incremental file list\na.go\ndata.go\nsent 90 bytes\n")

	assert.Equal(t, "sending incremental file list\nsrc/a.go\ndata.go\nsent 90 bytes\n", got)
}

func TestFilterShellNoise(t *testing.T) {
	in := "bash: cannot set terminal process group (-1): Inappropriate ioctl for device\nbash: no job control in this shell\nok\n"
	assert.Equal(t, "ok", filterShellNoise(in))
	assert.Equal(t, "", filterShellNoise(""))
}

func TestRemoteScripts(t *testing.T) {
	assert.Equal(t, `$SHELL -l -c "LANG=C cd ~/www && make"`, preCommandScript("~/www", "make"))
	assert.Equal(t, `$SHELL -l -c "LANG=C cd '/srv/my proj' && make"`, postCommandScript("/srv/my proj", "make"))
}

func TestSplitOption(t *testing.T) {
	assert.Equal(t, []string{"--chmod=ugo=rwX"}, splitOption("--chmod=ugo=rwX"))
	assert.Equal(t, []string{"--rsh=ssh -p 22"}, splitOption("--rsh=ssh -p 22"))
	assert.Equal(t, []string{"--exclude-from", "a b"}, splitOption("--exclude-from a b"))
	assert.Equal(t, []string{"--delete"}, splitOption("--delete"))
}
