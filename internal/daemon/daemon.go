package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"

	"rsyncssh/pkg/cache"
	"rsyncssh/pkg/config"
	"rsyncssh/pkg/console"
	"rsyncssh/pkg/debounce"
	"rsyncssh/pkg/executor"
	"rsyncssh/pkg/handler"
	"rsyncssh/pkg/history"
	httpHandler "rsyncssh/pkg/http"
	"rsyncssh/pkg/inflight"
	"rsyncssh/pkg/logger"
	"rsyncssh/pkg/notify"
	"rsyncssh/pkg/orchestrator"
	"rsyncssh/pkg/publisher"
	"rsyncssh/pkg/runner"
	"rsyncssh/pkg/task"
	"rsyncssh/pkg/workspace"
)

type DaemonService struct {
	server      *asynq.Server
	echo        *echo.Echo
	syncHandler *handler.SyncHandler
	publisher   *publisher.Publisher
	asyncClient *asynq.Client
	redisClient *redis.Client
	history     *history.Store
	config      *config.Config
}

func NewDaemonService(config *config.Config) (*DaemonService, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: config.Daemon.Concurrency,
		Queues: map[string]int{
			"default": 6,
		},
	})

	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	asyncClient := asynq.NewClient(redisOpt)
	log := logger.NewDefault()

	ttl := time.Duration(config.Cache.TTLSeconds) * time.Second
	logger.Info("creating rsync path cache", map[string]any{"backend": config.Cache.Backend})
	var pathCache cache.RsyncPathCache
	switch config.Cache.Backend {
	case "redis":
		pathCache = cache.NewRedis(redisClient, ttl)
	case "memory":
		pathCache = cache.NewMemory(config.Cache.Size, ttl)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", config.Cache.Backend)
	}

	r := runner.NewExecRunner(log)
	execOpts := []executor.Option{executor.WithCache(pathCache), executor.WithLogger(log)}
	if config.Notify.Enabled {
		execOpts = append(execOpts, executor.WithNotifier(notify.New(r, notify.WithCommand(config.Notify.Command))))
	}
	exec := executor.New(r, console.New(os.Stdout), execOpts...)

	orchOpts := []orchestrator.Option{
		orchestrator.WithInflight(inflight.NewRedis(redisClient, time.Duration(config.Daemon.InflightTTL)*time.Minute)),
		orchestrator.WithLogger(log),
	}

	var store *history.Store
	var historyReader httpHandler.HistoryReader
	if config.History.Enabled {
		var err error
		store, err = history.Open(config.History.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		historyReader = store
		orchOpts = append(orchOpts, orchestrator.WithRecorder(store))
	}

	orch := orchestrator.New(exec, console.New(os.Stdout), orchOpts...)

	fs := afero.NewOsFs()
	load := func(projectFile string) (orchestrator.Workspace, error) {
		return workspace.Load(fs, projectFile)
	}

	var debouncer handler.Debouncer
	if config.Daemon.DebounceSeconds > 0 {
		window := time.Duration(config.Daemon.DebounceSeconds) * time.Second
		debouncer = debounce.NewDebouncer(redisClient, asyncClient, window, log)
	}
	syncHandler := handler.NewSyncHandler(orch, load, debouncer, log)

	pub, err := publisher.NewPublisher(config)
	if err != nil {
		return nil, fmt.Errorf("create publisher: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	httpHandler.NewHTTPHandler(pub, pathCache, historyReader).Register(e)

	return &DaemonService{
		server:      server,
		echo:        e,
		syncHandler: syncHandler,
		publisher:   pub,
		asyncClient: asyncClient,
		redisClient: redisClient,
		history:     store,
		config:      config,
	}, nil
}

func (d *DaemonService) Start() error {
	go func() {
		logger.Info("starting HTTP server", map[string]any{
			"addr": d.config.HTTP.Addr,
		})

		if err := d.echo.Start(d.config.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", err, nil)
		}
	}()

	logger.Info("starting Asynq server", nil)
	mux := asynq.NewServeMux()
	mux.HandleFunc(task.TaskTypeSync, d.syncHandler.ProcessTask)
	return d.server.Run(mux)
}

func (d *DaemonService) Shutdown(ctx context.Context) error {
	logger.Info("initiating graceful shutdown", nil)

	if err := d.echo.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", err, nil)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.server.Shutdown()
	}()

	defer func() {
		d.publisher.Close()
		_ = d.asyncClient.Close()
		_ = d.redisClient.Close()
		if d.history != nil {
			if err := d.history.Close(); err != nil {
				logger.Error("failed to close history", err, nil)
			}
		}
	}()

	select {
	case <-done:
		logger.Info("all tasks completed, shutdown successful", nil)
		return nil
	case <-ctx.Done():
		logger.Warn("shutdown timeout, forcing exit", nil)
		return ctx.Err()
	}
}
