package executor

import (
	"path"
	"strings"

	"github.com/alessio/shellescape"

	"rsyncssh/pkg/runner"
)

const dryRunFlag = "--dry-run"

var shellNoise = []string{
	"no job control in this shell",
	"cannot set terminal process group",
}

const discoveryScript = "LANG=C which rsync"

// preCommandScript runs cmd from remotePath in a login shell. The path is
// left unquoted so "~" still expands.
func preCommandScript(remotePath, cmd string) string {
	return `$SHELL -l -c "LANG=C cd ` + remotePath + ` && ` + cmd + `"`
}

func postCommandScript(remotePath, cmd string) string {
	return `$SHELL -l -c "LANG=C cd ` + shellescape.Quote(remotePath) + ` && ` + cmd + `"`
}

// filterShellNoise drops login shell chatter and the trailing newline.
func filterShellNoise(output string) string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		noisy := false
		for _, n := range shellNoise {
			if strings.Contains(line, n) {
				noisy = true
				break
			}
		}
		if !noisy {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func isDryRun(options []string) bool {
	for _, o := range options {
		if strings.Contains(o, dryRunFlag) {
			return true
		}
	}
	return false
}

// splitOption keeps "--flag=value" whole and splits "--flag value" on the first space.
func splitOption(option string) []string {
	if strings.Contains(option, "=") {
		return []string{option}
	}
	return strings.SplitN(option, " ", 2)
}

func uniqueExcludes(excludes []string) []string {
	seen := make(map[string]struct{}, len(excludes))
	out := make([]string, 0, len(excludes))
	for _, e := range excludes {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

type transfer struct {
	cmd    runner.Command
	dryRun bool
	// display omits the --rsync-path override.
	display string
}

func buildTransfer(job *Job, rsyncPath string) transfer {
	port := job.Destination.Port()
	target := job.Destination.Target()

	args := []string{"-v", "-zar", "-e", job.SSH.Shell(port)}
	for _, option := range job.Options {
		args = append(args, splitOption(option)...)
	}

	if job.FromRemote {
		args = append(args, target+":"+shellescape.Quote(job.DestinationPath+"/"), job.SourcePath)
	} else {
		args = append(args, job.SourcePath, target+":"+shellescape.Quote(job.DestinationPath))
	}

	for _, exclude := range uniqueExcludes(job.Excludes) {
		args = append(args, "--exclude="+exclude)
	}

	t := transfer{
		cmd:    runner.Command{Name: job.TransferCommand, Args: args},
		dryRun: isDryRun(job.Options),
	}
	t.display = t.cmd.String()

	remoteRsync := rsyncPath
	if job.RsyncPathPrefix != "" {
		remoteRsync = job.RsyncPathPrefix + " " + rsyncPath
	}

	switch {
	case !t.dryRun && !job.FromRemote:
		mkdir := "mkdir -p " + shellescape.Quote(path.Dir(job.DestinationPath))
		t.cmd.Args = append(t.cmd.Args, "--rsync-path", mkdir+" && "+remoteRsync)
	case job.RsyncPathPrefix != "":
		t.cmd.Args = append(t.cmd.Args, "--rsync-path", remoteRsync)
	}

	return t
}

// relativeOutput rewrites listing lines that name the transferred file by its
// basename to its path relative to remote_path.
func relativeOutput(job *Job, output string) string {
	if !job.SingleFile {
		return output
	}
	rel := strings.TrimPrefix(strings.TrimPrefix(job.DestinationPath, job.Destination.RemotePath), "/")
	base := path.Base(rel)
	if rel == "" || rel == base {
		return output
	}
	lines := strings.Split(output, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == base {
			lines[i] = strings.Replace(line, base, rel, 1)
		}
	}
	return strings.Join(lines, "\n")
}
