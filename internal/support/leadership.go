package support

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLeaderTTL  = 45 * time.Second
	leaderRetryDelay  = time.Second
	leaderCallTimeout = 5 * time.Second
)

var (
	ErrLeadershipLost = errors.New("leader lock lost")

	leaderSeq atomic.Uint64

	// Both scripts only touch the key while it still holds our token.
	renewLeaderScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseLeaderScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RunWithLeader waits until it holds the Redis lock at key and then calls
// run with a context that ends when the lock is lost or ctx is done. It
// returns after run returns or ctx ends, releasing the lock either way.
func RunWithLeader(ctx context.Context, client *redis.Client, key string, ttl time.Duration, run func(context.Context)) error {
	if ttl <= 0 {
		ttl = DefaultLeaderTTL
	}
	token := leaderToken()

	for {
		ok, err := client.SetNX(ctx, key, token, ttl).Result()
		if err != nil && ctx.Err() == nil {
			log.Warn("Leader lock acquire failed", "key", key, "error", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(leaderRetryDelay):
		}
	}
	log.Debug("Leader lock acquired", "key", key)

	leaderCtx, cancel := context.WithCancelCause(ctx)
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		keepLeadership(leaderCtx, client, key, token, ttl, cancel)
	}()

	run(leaderCtx)
	cancel(nil)
	<-renewDone

	releaseCtx, releaseCancel := context.WithTimeout(context.Background(), leaderCallTimeout)
	defer releaseCancel()
	if err := releaseLeaderScript.Run(releaseCtx, client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		log.Warn("Leader lock release failed", "key", key, "error", err)
	}
	log.Debug("Leader lock released", "key", key)

	if cause := context.Cause(leaderCtx); errors.Is(cause, ErrLeadershipLost) {
		return cause
	}
	return nil
}

func keepLeadership(ctx context.Context, client *redis.Client, key, token string, ttl time.Duration, lose context.CancelCauseFunc) {
	ticker := time.NewTicker(max(ttl/3, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			callCtx, cancel := context.WithTimeout(context.Background(), leaderCallTimeout)
			renewed, err := renewLeaderScript.Run(callCtx, client, []string{key}, token, ttl.Milliseconds()).Int64()
			cancel()
			if err != nil || renewed == 0 {
				log.Warn("Leader lock renewal failed", "key", key, "error", err)
				lose(fmt.Errorf("%w: %s", ErrLeadershipLost, key))
				return
			}
		}
	}
}

func leaderToken() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d-%d", host, os.Getpid(), time.Now().UnixNano(), leaderSeq.Add(1))
}
