// Package debounce coalesces bursts of save events for the same project path
// into a single queued sync. State lives in redis so every publisher and
// worker sees the same window.
package debounce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"rsyncssh/pkg/logger"
	"rsyncssh/pkg/task"
)

const stateKeyPrefix = "rsync_ssh:debounce:"

type DebounceState struct {
	LastRequestTime   int64 `json:"last_request_time"`
	PendingTaskExists bool  `json:"pending_task_exists"`
}

type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Debouncer struct {
	redisClient *redis.Client
	enqueuer    Enqueuer
	window      time.Duration
	logger      *logger.Logger
	now         func() time.Time
}

func NewDebouncer(redisClient *redis.Client, enqueuer Enqueuer, window time.Duration, logger *logger.Logger) *Debouncer {
	return &Debouncer{
		redisClient: redisClient,
		enqueuer:    enqueuer,
		window:      window,
		logger:      logger,
		now:         time.Now,
	}
}

func stateKey(payload task.SyncPayload) string {
	return fmt.Sprintf("%s%016x", stateKeyPrefix, xxhash.Sum64String(payload.DebounceKey()))
}

// Trigger records a request. The first request of a burst enqueues a sync
// that runs once the window has passed; later ones only move the window.
func (d *Debouncer) Trigger(ctx context.Context, payload task.SyncPayload) error {
	state, err := d.getDebounceState(ctx, payload)
	if err != nil {
		return fmt.Errorf("failed to get debounce state: %w", err)
	}

	state.LastRequestTime = d.now().UnixMilli()

	if state.PendingTaskExists {
		if err := d.saveDebounceState(ctx, payload, state); err != nil {
			return fmt.Errorf("failed to save debounce state: %w", err)
		}
		d.logger.Debug("sync debounce request updated", map[string]any{
			"project_file": payload.ProjectFile,
			"path":         payload.Path,
		})
		return nil
	}

	state.PendingTaskExists = true
	if err := d.saveDebounceState(ctx, payload, state); err != nil {
		return fmt.Errorf("failed to save debounce state: %w", err)
	}

	if err := d.enqueue(payload, d.window); err != nil {
		return err
	}

	d.logger.Info("sync debounce task created", map[string]any{
		"project_file": payload.ProjectFile,
		"path":         payload.Path,
		"delay":        d.window,
	})
	return nil
}

func (d *Debouncer) enqueue(payload task.SyncPayload, delay time.Duration) error {
	t, err := task.NewSyncTask(payload)
	if err != nil {
		return err
	}
	if _, err := d.enqueuer.Enqueue(t, asynq.ProcessIn(delay)); err != nil {
		return fmt.Errorf("failed to enqueue sync task: %w", err)
	}
	return nil
}

// ShouldExecute reports whether the window has been quiet. When it has not,
// the returned duration is how long is left.
func (d *Debouncer) ShouldExecute(ctx context.Context, payload task.SyncPayload) (bool, time.Duration, error) {
	state, err := d.getDebounceState(ctx, payload)
	if err != nil {
		return false, 0, fmt.Errorf("failed to get debounce state: %w", err)
	}

	elapsed := d.now().Sub(time.UnixMilli(state.LastRequestTime))
	if elapsed < d.window {
		return false, d.window - elapsed, nil
	}
	return true, 0, nil
}

// Reschedule queues payload again after delay, keeping the pending flag.
func (d *Debouncer) Reschedule(payload task.SyncPayload, delay time.Duration) error {
	if err := d.enqueue(payload, delay); err != nil {
		return fmt.Errorf("failed to reschedule sync task: %w", err)
	}
	d.logger.Info("sync task rescheduled due to debounce", map[string]any{
		"project_file": payload.ProjectFile,
		"path":         payload.Path,
		"delay":        delay,
	})
	return nil
}

func (d *Debouncer) MarkTaskCompleted(ctx context.Context, payload task.SyncPayload) error {
	state, err := d.getDebounceState(ctx, payload)
	if err != nil {
		return fmt.Errorf("failed to get debounce state: %w", err)
	}

	state.PendingTaskExists = false
	if err := d.saveDebounceState(ctx, payload, state); err != nil {
		return fmt.Errorf("failed to save debounce state: %w", err)
	}
	return nil
}

func (d *Debouncer) getDebounceState(ctx context.Context, payload task.SyncPayload) (*DebounceState, error) {
	result, err := d.redisClient.Get(ctx, stateKey(payload)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &DebounceState{}, nil
		}
		return nil, err
	}

	var state DebounceState
	if err := json.Unmarshal([]byte(result), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal debounce state: %w", err)
	}
	return &state, nil
}

func (d *Debouncer) saveDebounceState(ctx context.Context, payload task.SyncPayload, state *DebounceState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal debounce state: %w", err)
	}

	expiration := max(d.window*2, time.Minute)
	return d.redisClient.Set(ctx, stateKey(payload), data, expiration).Err()
}
