package executor

import (
	"errors"
	"fmt"
	"time"

	"rsyncssh/pkg/runner"
	"rsyncssh/pkg/workspace"
)

// Job is one local path to destination transfer. It is owned by the
// goroutine executing it and never shared.
type Job struct {
	Key             string
	LocalPath       string
	Prefix          string
	Destination     workspace.Destination
	SourcePath      string
	DestinationPath string
	Excludes        []string
	Options         []string
	Timeout         time.Duration
	ForceSync       bool
	FromRemote      bool

	// SingleFile is set when SourcePath is one file below LocalPath.
	SingleFile      bool
	TransferCommand string
	RsyncPathPrefix string
	SSH             runner.SSH
}

func (j *Job) Host() string {
	return j.Destination.RemoteHost
}

type Kind string

const (
	KindSynced                 Kind = "synced"
	KindSkipped                Kind = "skipped"
	KindRemoteUnreachable      Kind = "remote_unreachable_or_timeout"
	KindRemoteBinaryMissing    Kind = "remote_binary_missing"
	KindHostKeyNotAccepted     Kind = "host_key_not_accepted"
	KindPreOrPostCommandFailed Kind = "pre_or_post_command_failed"
	KindTransferFailed         Kind = "transfer_failed"
	KindDryRunMissingRemoteDir Kind = "dry_run_missing_remote_dir"
)

// IsFatal reports whether kind ends a job as failed. Pre/post command
// failures and the dry-run missing directory case are warnings.
func IsFatal(kind Kind) bool {
	switch kind {
	case KindRemoteUnreachable, KindRemoteBinaryMissing, KindHostKeyNotAccepted, KindTransferFailed:
		return true
	default:
		return false
	}
}

type SyncError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

func KindOf(err error) (Kind, bool) {
	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		return "", false
	}
	return syncErr.Kind, true
}

type Outcome struct {
	Key             string
	Host            string
	Prefix          string
	Identity        string
	SourcePath      string
	DestinationPath string
	FromRemote      bool
	DryRun          bool
	Kind            Kind
	Output          string

	// Err carries the fatal error or the dry-run warning.
	Err      error
	Warnings []*SyncError
	Started  time.Time
	Duration time.Duration
}

func (o Outcome) Failed() bool {
	return IsFatal(o.Kind)
}

// Succeeded covers real transfers, dry runs and the dry-run missing directory warning.
func (o Outcome) Succeeded() bool {
	return o.Kind == KindSynced || o.Kind == KindDryRunMissingRemoteDir
}
