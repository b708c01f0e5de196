package publisher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"rsyncssh/pkg/config"
	"rsyncssh/pkg/debounce"
	"rsyncssh/pkg/logger"
	"rsyncssh/pkg/task"
)

type Publisher struct {
	client      *asynq.Client
	redisClient *redis.Client
	debouncer   *debounce.Debouncer
	config      *config.Config
}

func NewPublisher(config *config.Config) (*Publisher, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	}

	client := asynq.NewClient(redisOpt)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	window := time.Duration(config.Daemon.DebounceSeconds) * time.Second

	return &Publisher{
		client:      client,
		redisClient: redisClient,
		debouncer:   debounce.NewDebouncer(redisClient, client, window, logger.NewDefault()),
		config:      config,
	}, nil
}

func (p *Publisher) Close() {
	_ = p.client.Close()
	_ = p.redisClient.Close()
}

// PublishSync enqueues a sync. Save events go through the debouncer when a
// debounce window is configured.
func (p *Publisher) PublishSync(ctx context.Context, payload task.SyncPayload) error {
	if payload.ProjectFile == "" {
		return fmt.Errorf("project file is required")
	}
	if _, err := os.Stat(payload.ProjectFile); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("project file not found: %s", payload.ProjectFile)
	}

	if payload.Save && p.config.Daemon.DebounceSeconds > 0 {
		return p.debouncer.Trigger(ctx, payload)
	}

	t, err := task.NewSyncTask(payload)
	if err != nil {
		return err
	}

	info, err := p.client.EnqueueContext(
		ctx,
		t,
		asynq.MaxRetry(p.config.Publish.MaxRetry),
		asynq.Timeout(time.Duration(p.config.Publish.TimeoutMinutes)*time.Minute),
	)
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}

	logger.Info("task enqueued successfully", map[string]any{
		"task_id":      info.ID,
		"queue":        info.Queue,
		"project_file": payload.ProjectFile,
		"path":         payload.Path,
	})
	return nil
}
