package support

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPingTimeout = 5 * time.Second

var (
	redisMu     sync.Mutex
	redisClient *redis.Client
)

// redisOptions reads REDIS_URL and lets REDIS_POOL_SIZE and
// REDIS_DIAL_TIMEOUT override what the URL carries.
func redisOptions() (*redis.Options, error) {
	redisURL := GetEnv("REDIS_URL", "redis://localhost:6379")

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL %q: %w", redisURL, err)
	}
	if size := GetEnvInt("REDIS_POOL_SIZE", 0); size > 0 {
		opt.PoolSize = size
	}
	if timeout := GetEnvDuration("REDIS_DIAL_TIMEOUT", 0); timeout > 0 {
		opt.DialTimeout = timeout
	}
	return opt, nil
}

// GetRedisClient connects on first use and hands out the same client after.
func GetRedisClient(ctx context.Context) (*redis.Client, error) {
	redisMu.Lock()
	defer redisMu.Unlock()

	if redisClient != nil {
		return redisClient, nil
	}

	opt, err := redisOptions()
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opt.Addr, err)
	}

	redisClient = client
	return redisClient, nil
}

func CloseRedisClient() error {
	redisMu.Lock()
	defer redisMu.Unlock()

	if redisClient == nil {
		return nil
	}
	err := redisClient.Close()
	redisClient = nil
	return err
}
