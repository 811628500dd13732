package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

const (
	defaultRedisTTL  = 10 * time.Second
	defaultRedisWait = 5 * time.Second
	pollInterval     = 25 * time.Millisecond
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by another replica is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a single-instance SET NX PX lock shared by every replica that
// points at the same redis.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	wait   time.Duration
	logger *slog.Logger
}

func NewRedis(client redis.UniversalClient, ttl, wait time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	if wait <= 0 {
		wait = defaultRedisWait
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client: client,
		prefix: "user-management:lock:",
		ttl:    ttl,
		wait:   wait,
		logger: logger,
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := r.prefix + key
	token := uuid.NewString()

	backoff := retry.WithMaxDuration(r.wait, retry.NewConstant(pollInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		acquired, err := r.client.SetNX(ctx, fullKey, token, r.ttl).Result()
		if err != nil {
			return err
		}
		if !acquired {
			return retry.RetryableError(ErrLockTimeout)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's ctx may already be cancelled; release regardless
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{fullKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				r.logger.Warn("failed to release redis lock", "key", fullKey, "error", err)
			}
		})
	}, nil
}
