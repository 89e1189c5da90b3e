package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"proxyfinder/internal/database"
	"proxyfinder/internal/support"
)

const (
	envCleanupInterval = "PROXYFINDER_CLEANUP_INTERVAL"
	envStaleAfter      = "PROXYFINDER_STALE_AFTER"

	defaultCleanupInterval = time.Hour
	DefaultStaleAfter      = 72 * time.Hour
	staleCleanupLockKey    = "proxyfinder:leader:stale_cleanup"
)

var deleteStale = database.DeleteStaleProxies

// StartStaleCleanupRoutine prunes stale stored proxies right away and then
// on every tick until ctx is done. Zero arguments are read from the
// environment.
func StartStaleCleanupRoutine(ctx context.Context, interval, staleAfter time.Duration) {
	if interval <= 0 {
		interval = ResolveCleanupInterval()
	}
	if staleAfter <= 0 {
		staleAfter = ResolveStaleAfter()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runStaleCleanup(ctx, staleAfter)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runStaleCleanup(ctx, staleAfter)
		}
	}
}

// StartLeaderStaleCleanup runs the cleanup routine only while this process
// holds the Redis leader lock, so several instances can share one store.
func StartLeaderStaleCleanup(ctx context.Context, client *redis.Client, interval, staleAfter time.Duration) error {
	for {
		err := support.RunWithLeader(ctx, client, staleCleanupLockKey, support.DefaultLeaderTTL, func(leaderCtx context.Context) {
			StartStaleCleanupRoutine(leaderCtx, interval, staleAfter)
		})
		switch {
		case errors.Is(err, support.ErrLeadershipLost):
			log.Warn("Lost stale cleanup leadership, waiting to reacquire")
		case err != nil && errors.Is(err, ctx.Err()):
			return nil
		default:
			return err
		}
	}
}

func ResolveCleanupInterval() time.Duration {
	interval := support.GetEnvDuration(envCleanupInterval, defaultCleanupInterval)
	if interval <= 0 {
		log.Warn("Invalid cleanup interval, using default", "env", envCleanupInterval, "default", defaultCleanupInterval)
		return defaultCleanupInterval
	}
	return interval
}

func ResolveStaleAfter() time.Duration {
	staleAfter := support.GetEnvDuration(envStaleAfter, DefaultStaleAfter)
	if staleAfter <= 0 {
		return DefaultStaleAfter
	}
	return staleAfter
}

// RunStaleCleanup deletes the proxies not checked within staleAfter.
func RunStaleCleanup(ctx context.Context, staleAfter time.Duration) (int64, error) {
	return deleteStale(ctx, time.Now().Add(-staleAfter))
}

func runStaleCleanup(ctx context.Context, staleAfter time.Duration) {
	start := time.Now()

	removed, err := RunStaleCleanup(ctx, staleAfter)
	if err != nil {
		log.Error("Failed to cleanup stale proxies", "error", err)
		return
	}

	if removed == 0 {
		return
	}

	log.Info("Stale proxy cleanup completed", "removed", removed, "stale_after", staleAfter, "duration", time.Since(start))
}
