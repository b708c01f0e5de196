package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"rsyncssh/pkg/logger"
)

const redisKeyPrefix = "rsync_ssh:rsync_path:"

// Redis shares discovery results between the CLI, watchers and daemon workers.
type Redis struct {
	redisClient *redis.Client
	ttl         time.Duration
	logger      *logger.Logger
	now         func() time.Time
}

func NewRedis(redisClient *redis.Client, ttl time.Duration) *Redis {
	return &Redis{
		redisClient: redisClient,
		ttl:         ttl,
		logger:      logger.NewDefault(),
		now:         time.Now,
	}
}

func (c *Redis) cacheKey(target string) string {
	return fmt.Sprintf("%s%016x", redisKeyPrefix, xxhash.Sum64String(target))
}

func (c *Redis) Get(ctx context.Context, target string) (*Entry, error) {
	result, err := c.redisClient.Get(ctx, c.cacheKey(target)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &Miss{Target: target}
		}
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal([]byte(result), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	// Two targets hashing alike must not share an rsync path.
	if entry.Target != target {
		return nil, &Miss{Target: target}
	}
	return &entry, nil
}

func (c *Redis) Set(ctx context.Context, target, rsyncPath string) error {
	data, err := json.Marshal(Entry{Target: target, RsyncPath: rsyncPath, Timestamp: c.now()})
	if err != nil {
		return err
	}
	return c.redisClient.Set(ctx, c.cacheKey(target), data, c.ttl).Err()
}

func (c *Redis) Invalidate(ctx context.Context, target string) error {
	if target != "" {
		return c.redisClient.Del(ctx, c.cacheKey(target)).Err()
	}

	var keys []string
	iter := c.redisClient.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}

	if len(keys) > 0 {
		c.logger.Info("clearing rsync path cache", map[string]any{"keys": len(keys)})
		return c.redisClient.Del(ctx, keys...).Err()
	}
	return nil
}
