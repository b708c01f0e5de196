package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"rsyncssh/pkg/logger"
	"rsyncssh/pkg/orchestrator"
	"rsyncssh/pkg/selector"
	"rsyncssh/pkg/task"
)

type Syncer interface {
	Sync(ctx context.Context, ws orchestrator.Workspace, req orchestrator.Request) (*orchestrator.Summary, error)
	OnSave(ctx context.Context, ws orchestrator.Workspace, project, saved string) (*orchestrator.Summary, error)
}

// Loader reads the project file named by a task.
type Loader func(projectFile string) (orchestrator.Workspace, error)

type Debouncer interface {
	ShouldExecute(ctx context.Context, payload task.SyncPayload) (bool, time.Duration, error)
	Reschedule(payload task.SyncPayload, delay time.Duration) error
	MarkTaskCompleted(ctx context.Context, payload task.SyncPayload) error
}

type SyncHandler struct {
	syncer    Syncer
	load      Loader
	debouncer Debouncer
	logger    *logger.Logger
}

// NewSyncHandler builds the worker side of a queued sync. debouncer may be
// nil when save events are not debounced.
func NewSyncHandler(syncer Syncer, load Loader, debouncer Debouncer, logger *logger.Logger) *SyncHandler {
	return &SyncHandler{
		syncer:    syncer,
		load:      load,
		debouncer: debouncer,
		logger:    logger,
	}
}

func (h *SyncHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := task.ParseSyncPayload(t)
	if err != nil {
		h.logger.Error("failed to parse payload", err, nil)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	debounced := payload.Save && h.debouncer != nil
	if debounced {
		shouldExecute, remaining, err := h.debouncer.ShouldExecute(ctx, payload)
		if err != nil {
			return fmt.Errorf("failed to check sync execution condition: %w", err)
		}
		if !shouldExecute {
			return h.debouncer.Reschedule(payload, remaining)
		}
		defer func() {
			if err := h.debouncer.MarkTaskCompleted(context.WithoutCancel(ctx), payload); err != nil {
				h.logger.Error("failed to mark sync task as completed", err, nil)
			}
		}()
	}

	h.logger.Info("starting sync task", map[string]any{
		"project_file": payload.ProjectFile,
		"path":         payload.Path,
		"from_remote":  payload.FromRemote,
		"save":         payload.Save,
	})

	ws, err := h.load(payload.ProjectFile)
	if err != nil {
		h.logger.Error("failed to load project", err, map[string]any{"project_file": payload.ProjectFile})
		return fmt.Errorf("load project: %w: %w", err, asynq.SkipRetry)
	}

	summary, err := h.run(ctx, ws, payload)
	switch {
	case errors.Is(err, orchestrator.ErrSaveIgnored), errors.Is(err, orchestrator.ErrSyncInProgress):
		h.logger.Info("sync task dropped", map[string]any{
			"project_file": payload.ProjectFile,
			"path":         payload.Path,
			"reason":       err.Error(),
		})
		return nil
	case err != nil:
		h.logger.Error("sync task failed", err, map[string]any{"project_file": payload.ProjectFile})
		return fmt.Errorf("sync: %w: %w", err, asynq.SkipRetry)
	}

	result := resultOf(payload, summary)
	h.writeResult(t, result)

	fields := map[string]any{
		"project_file": payload.ProjectFile,
		"jobs":         result.Jobs,
		"succeeded":    result.Succeeded,
		"failed":       result.Failed,
		"skipped":      result.Skipped,
		"exit_code":    result.ExitCode,
		"duration":     result.Duration,
	}
	if result.Failed > 0 {
		h.logger.Warn("sync task finished with failures", fields)
		return fmt.Errorf("%d of %d jobs failed: %w", result.Failed, result.Jobs, asynq.SkipRetry)
	}
	h.logger.Info("sync task finished", fields)
	return nil
}

func (h *SyncHandler) run(ctx context.Context, ws orchestrator.Workspace, payload task.SyncPayload) (*orchestrator.Summary, error) {
	if payload.Save {
		return h.syncer.OnSave(ctx, ws, payload.ProjectFile, payload.Path)
	}
	return h.syncer.Sync(ctx, ws, orchestrator.Request{
		Project:    payload.ProjectFile,
		Path:       payload.Path,
		Restrict:   selector.NewRestriction(payload.Restrict...),
		Force:      payload.Force,
		FromRemote: payload.FromRemote,
		Keys:       payload.Keys,
	})
}

func resultOf(payload task.SyncPayload, s *orchestrator.Summary) task.SyncResult {
	succeeded, failed, skipped := s.Counts()
	return task.SyncResult{
		ProjectFile: payload.ProjectFile,
		Path:        payload.Path,
		Jobs:        s.Jobs,
		Succeeded:   succeeded,
		Failed:      failed,
		Skipped:     skipped,
		ExitCode:    s.ExitCode(),
		Message:     s.Message(),
		Duration:    s.Duration.String(),
	}
}

func (h *SyncHandler) writeResult(t *asynq.Task, result task.SyncResult) {
	w := t.ResultWriter()
	if w == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		h.logger.Error("failed to marshal sync result", err, nil)
		return
	}
	if _, err := w.Write(data); err != nil {
		h.logger.Error("failed to write sync result", err, nil)
	}
}
