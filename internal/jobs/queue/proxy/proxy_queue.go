package proxyqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"proxyfinder/internal/domain"
	"proxyfinder/internal/support"
)

const (
	DefaultQueueKey = "proxyfinder:found"

	publishBatchSize = 500
	drainBatchSize   = 500
)

var ErrQueueEmpty = errors.New("proxy queue is empty")

// RedisProxyQueue hands discovered proxies to other processes through a
// Redis list. Producers append on the right, consumers pop from the left.
type RedisProxyQueue struct {
	client *redis.Client
	key    string
}

func NewRedisProxyQueue(client *redis.Client, key string) *RedisProxyQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisProxyQueue{client: client, key: key}
}

// Connect opens the shared Redis client from REDIS_URL.
func Connect(ctx context.Context, key string) (*RedisProxyQueue, error) {
	client, err := support.GetRedisClient(ctx)
	if err != nil {
		return nil, err
	}
	return NewRedisProxyQueue(client, key), nil
}

func (rpq *RedisProxyQueue) Key() string {
	return rpq.key
}

func (rpq *RedisProxyQueue) Publish(ctx context.Context, proxies ...domain.Proxy) error {
	if rpq == nil {
		return errors.New("redis proxy queue is nil")
	}
	if len(proxies) == 0 {
		return nil
	}

	pipe := rpq.client.Pipeline()
	pending := 0
	for _, proxy := range proxies {
		payload, err := encodeProxy(proxy)
		if err != nil {
			return err
		}
		pipe.RPush(ctx, rpq.key, payload)
		pending++

		if pending >= publishBatchSize {
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("batch pipeline failed: %w", err)
			}
			pipe = rpq.client.Pipeline()
			pending = 0
		}
	}

	if pending > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("final pipeline exec failed: %w", err)
		}
	}

	log.Debug("Published proxies", "key", rpq.key, "count", len(proxies))
	return nil
}

// Pop blocks up to timeout for the next proxy. A zero timeout blocks until
// ctx ends.
func (rpq *RedisProxyQueue) Pop(ctx context.Context, timeout time.Duration) (domain.Proxy, error) {
	result, err := rpq.client.BLPop(ctx, timeout, rpq.key).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Proxy{}, ErrQueueEmpty
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Proxy{}, ctxErr
		}
		return domain.Proxy{}, fmt.Errorf("blpop %s: %w", rpq.key, err)
	}
	// BLPOP answers with [key, value].
	if len(result) != 2 {
		return domain.Proxy{}, fmt.Errorf("blpop %s: unexpected reply %v", rpq.key, result)
	}
	return decodeProxy(result[1])
}

// Drain pops up to max proxies without blocking. A max of zero or less
// empties the queue.
func (rpq *RedisProxyQueue) Drain(ctx context.Context, max int) ([]domain.Proxy, error) {
	var proxies []domain.Proxy
	for max <= 0 || len(proxies) < max {
		batch := drainBatchSize
		if max > 0 {
			batch = min(batch, max-len(proxies))
		}

		values, err := rpq.client.LPopCount(ctx, rpq.key, batch).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return proxies, fmt.Errorf("lpop %s: %w", rpq.key, err)
		}

		decoded, err := decodeProxies(values)
		proxies = append(proxies, decoded...)
		if err != nil {
			return proxies, err
		}
		if len(values) < batch {
			break
		}
	}
	return proxies, nil
}

// LoadProxies empties the queue, so a pool can be seeded from it.
func (rpq *RedisProxyQueue) LoadProxies(ctx context.Context) ([]domain.Proxy, error) {
	return rpq.Drain(ctx, 0)
}

func (rpq *RedisProxyQueue) Len(ctx context.Context) (int64, error) {
	return rpq.client.LLen(ctx, rpq.key).Result()
}

func (rpq *RedisProxyQueue) Clear(ctx context.Context) error {
	return rpq.client.Del(ctx, rpq.key).Err()
}

func (rpq *RedisProxyQueue) Close() error {
	return support.CloseRedisClient()
}

func encodeProxy(proxy domain.Proxy) (string, error) {
	payload, err := json.Marshal(proxy)
	if err != nil {
		return "", fmt.Errorf("failed to marshal proxy: %w", err)
	}
	return string(payload), nil
}

func decodeProxy(payload string) (domain.Proxy, error) {
	var proxy domain.Proxy
	if err := json.Unmarshal([]byte(payload), &proxy); err != nil {
		return domain.Proxy{}, fmt.Errorf("failed to unmarshal proxy: %w", err)
	}
	if proxy.Host == "" {
		return domain.Proxy{}, fmt.Errorf("%w: queue entry %q has no host", domain.ErrInvalidProxy, payload)
	}
	return proxy, nil
}

func decodeProxies(values []string) ([]domain.Proxy, error) {
	proxies := make([]domain.Proxy, 0, len(values))
	var errs []error
	for _, value := range values {
		proxy, err := decodeProxy(value)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		proxies = append(proxies, proxy)
	}
	return proxies, errors.Join(errs...)
}
