package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"rsyncssh/pkg/cache"
	"rsyncssh/pkg/config"
	httpHandler "rsyncssh/pkg/http"
)

func (a *app) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the remote rsync location cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear [target]",
		Short: "Forget discovered rsync locations, for one target or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(false)
			if err != nil {
				return err
			}
			var target string
			if len(args) == 1 {
				target = args[0]
			}

			if cfg.Cache.Backend == "redis" {
				return a.clearRedisCache(cmd.Context(), cfg, target)
			}
			return a.clearDaemonCache(cmd.Context(), cfg, target)
		},
	})
	return cmd
}

func (a *app) clearRedisCache(ctx context.Context, cfg *config.Config, target string) error {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	c := cache.NewRedis(redisClient, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	if err := c.Invalidate(ctx, target); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	fmt.Fprintln(a.stdout, "cache cleared")
	return nil
}

// clearDaemonCache asks a running daemon to drop its in-memory entries.
func (a *app) clearDaemonCache(ctx context.Context, cfg *config.Config, target string) error {
	u := url.URL{Scheme: "http", Host: cfg.HTTP.Addr, Path: "/cache"}
	if target != "" {
		u.RawQuery = url.Values{"target": {target}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not running: %w", err)
	}
	defer resp.Body.Close()

	var result httpHandler.ClearCacheResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode cache response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("clear cache: %s", result.Error)
	}
	fmt.Fprintln(a.stdout, result.Message)
	return nil
}
