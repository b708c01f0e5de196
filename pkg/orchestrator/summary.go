package orchestrator

import (
	"fmt"
	"time"

	"rsyncssh/pkg/executor"
	"rsyncssh/pkg/resolve"
)

// Process exit codes of a sync run.
const (
	ExitSynced         = 0
	ExitConfigError    = 1
	ExitDryRun         = 2
	ExitPartialFailure = 3
	ExitAmbiguous      = 4
	ExitNoRemotes      = 5
	ExitUnreachable    = 6
	ExitBinaryMissing  = 7
	ExitHostKey        = 8
	ExitTransferFailed = 9
	ExitCommandFailed  = 10
	ExitSyncInProgress = 11
)

var kindExitCodes = map[executor.Kind]int{
	executor.KindRemoteUnreachable:      ExitUnreachable,
	executor.KindRemoteBinaryMissing:    ExitBinaryMissing,
	executor.KindHostKeyNotAccepted:     ExitHostKey,
	executor.KindTransferFailed:         ExitTransferFailed,
	executor.KindPreOrPostCommandFailed: ExitCommandFailed,
}

type Summary struct {
	Project     string
	Jobs        int
	Outcomes    []executor.Outcome
	Diagnostics []resolve.Diagnostic
	FromRemote  bool
	Started     time.Time
	Duration    time.Duration
}

func direction(fromRemote bool) string {
	if fromRemote {
		return "from"
	}
	return "to"
}

func progressMessage(fromRemote bool, jobs int) string {
	noun := "destinations"
	if jobs == 1 {
		noun = "destination"
	}
	return fmt.Sprintf("Rsyncing %s %d %s", direction(fromRemote), jobs, noun)
}

func (s *Summary) Message() string {
	return progressMessage(s.FromRemote, s.Jobs) + " - done."
}

// Counts returns how many jobs succeeded, failed and were skipped.
func (s *Summary) Counts() (succeeded, failed, skipped int) {
	for _, o := range s.Outcomes {
		switch {
		case o.Failed():
			failed++
		case o.Succeeded():
			succeeded++
		default:
			skipped++
		}
	}
	return succeeded, failed, skipped
}

// ExitCode maps the run onto the documented process exit codes. When every
// job failed the kind of the first failed job in dispatch order decides.
func (s *Summary) ExitCode() int {
	if s.Jobs == 0 {
		for _, d := range s.Diagnostics {
			if d.Kind == resolve.ConfigurationAmbiguous {
				return ExitAmbiguous
			}
		}
		for _, d := range s.Diagnostics {
			if d.Kind == resolve.NoRemotesDefined {
				return ExitNoRemotes
			}
		}
		return ExitSynced
	}

	succeeded, failed, _ := s.Counts()
	switch {
	case failed > 0 && succeeded > 0:
		return ExitPartialFailure
	case failed > 0:
		for _, o := range s.Outcomes {
			if o.Failed() {
				return kindExitCodes[o.Kind]
			}
		}
	}

	dryRun := succeeded > 0
	for _, o := range s.Outcomes {
		if len(o.Warnings) > 0 {
			return ExitCommandFailed
		}
		if o.Succeeded() && !o.DryRun {
			dryRun = false
		}
	}
	if dryRun {
		return ExitDryRun
	}
	return ExitSynced
}
