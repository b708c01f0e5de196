package inflight

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "rsync_ssh:inflight:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis holds markers across processes. Markers expire after ttl so a
// crashed worker cannot block a path forever.
type Redis struct {
	redisClient *redis.Client
	ttl         time.Duration
	owner       string
}

func NewRedis(redisClient *redis.Client, ttl time.Duration) *Redis {
	return &Redis{
		redisClient: redisClient,
		ttl:         ttl,
		owner:       uuid.NewString(),
	}
}

func (r *Redis) key(key string) string {
	return fmt.Sprintf("%s%016x", redisKeyPrefix, xxhash.Sum64String(key))
}

func (r *Redis) TryAcquire(ctx context.Context, key string) (bool, error) {
	ok, err := r.redisClient.SetNX(ctx, r.key(key), r.owner, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire inflight marker: %w", err)
	}
	return ok, nil
}

// Release only removes markers this tracker set.
func (r *Redis) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, r.redisClient, []string{r.key(key)}, r.owner).Err(); err != nil {
		return fmt.Errorf("release inflight marker: %w", err)
	}
	return nil
}
