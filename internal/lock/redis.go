package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only while it still carries our token, so a
// lease that expired and was taken over is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lease-based Locker shared by all replicas. The lease must
// outlive the longest tick; an expired lease lets another replica in.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedis(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "redis_lock")),
	}
}

// NewRedisClient parses a redis:// URL and checks the server is reachable.
func NewRedisClient(ctx context.Context, url string, logger *zap.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	logger.Info("Connected to Redis", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return client, nil
}

func (r *Redis) TryLock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	fullKey := r.prefix + key

	ok, err := r.client.SetNX(ctx, fullKey, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", fullKey, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return func() {
		// Release on a fresh context: the caller's may already be cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, r.client, []string{fullKey}, token).Err(); err != nil {
			r.logger.Warn("Failed to release lock", zap.String("key", fullKey), zap.Error(err))
		}
	}, nil
}
