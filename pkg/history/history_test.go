package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rsyncssh/pkg/executor"
	"rsyncssh/pkg/orchestrator"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func outcome(host string, kind executor.Kind, started time.Time) executor.Outcome {
	return executor.Outcome{
		Key:             "proj",
		Host:            host,
		Identity:        "deploy@" + host + ":22:/srv/proj",
		SourcePath:      "/home/u/proj/",
		DestinationPath: "/srv/proj",
		Kind:            kind,
		Started:         started,
		Duration:        1500 * time.Millisecond,
	}
}

func TestRecordAndQuery(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	failed := outcome("web2", executor.KindTransferFailed, base.Add(time.Minute))
	failed.Err = &executor.SyncError{Kind: executor.KindTransferFailed, Message: "rsync to web2 failed", Cause: errors.New("exit 23")}
	warned := outcome("web3", executor.KindSynced, base.Add(2*time.Minute))
	warned.Warnings = []*executor.SyncError{{Kind: executor.KindPreOrPostCommandFailed}}

	summary := &orchestrator.Summary{
		Project: "/home/u/proj.yaml",
		Jobs:    4,
		Outcomes: []executor.Outcome{
			outcome("web1", executor.KindSynced, base),
			failed,
			warned,
			outcome("web4", executor.KindSkipped, base.Add(3*time.Minute)),
		},
	}
	require.NoError(t, store.Record(ctx, summary))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 4, Success: 2, Failed: 1, Skipped: 1}, stats)

	recent, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "web4", recent[0].Host)
	assert.Equal(t, StatusSkipped, recent[0].Status)
	assert.Equal(t, "web3", recent[1].Host)
	assert.Equal(t, 1, recent[1].Warnings)

	failures, err := store.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "web2", failures[0].Host)
	assert.Equal(t, "transfer_failed", failures[0].Kind)
	assert.Contains(t, failures[0].ErrMsg, "exit 23")
	assert.Equal(t, "/home/u/proj.yaml", failures[0].Project)
	assert.Equal(t, int64(1500), failures[0].DurationMS)
}

func TestRecordEmptySummary(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.Record(context.Background(), &orchestrator.Summary{}))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestRecordWithoutStartTime(t *testing.T) {
	store := openStore(t)
	fixed := time.Date(2026, 5, 5, 8, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	summary := &orchestrator.Summary{Outcomes: []executor.Outcome{outcome("web1", executor.KindSynced, time.Time{})}}
	require.NoError(t, store.Record(context.Background(), summary))

	recent, err := store.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.True(t, fixed.Equal(recent[0].SyncedAt))
}
