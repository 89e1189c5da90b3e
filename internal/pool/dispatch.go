package pool

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/charmbracelet/log"

	"proxyfinder/internal/domain"
	"proxyfinder/internal/support"
)

// Requester issues a single request through a single proxy.
type Requester interface {
	Do(ctx context.Context, proxy domain.Proxy, target string, opts RequestOptions) (*Response, error)
}

type RequesterFunc func(ctx context.Context, proxy domain.Proxy, target string, opts RequestOptions) (*Response, error)

func (f RequesterFunc) Do(ctx context.Context, proxy domain.Proxy, target string, opts RequestOptions) (*Response, error) {
	return f(ctx, proxy, target, opts)
}

// Selector picks one proxy from a non-empty slice. It must be safe for
// concurrent use.
type Selector func(proxies []domain.Proxy) domain.Proxy

func UniformSelector(proxies []domain.Proxy) domain.Proxy {
	return proxies[rand.IntN(len(proxies))]
}

// StopCondition is consulted after every transient failure. Returning true
// ends the retry loop with ErrRetriesExhausted.
type StopCondition func(attempts int, started time.Time) bool

func MaxAttempts(n int) StopCondition {
	return func(attempts int, _ time.Time) bool {
		return attempts >= n
	}
}

func Deadline(d time.Duration) StopCondition {
	return func(_ int, started time.Time) bool {
		return time.Since(started) >= d
	}
}

func AnyOf(conditions ...StopCondition) StopCondition {
	return func(attempts int, started time.Time) bool {
		for _, condition := range conditions {
			if condition != nil && condition(attempts, started) {
				return true
			}
		}
		return false
	}
}

// Request sends target through a randomly chosen proxy. A transient failure
// is retried through a freshly chosen proxy, with no limit unless the pool
// was built with a StopCondition: a pool without a single working proxy
// makes this call loop until ctx is done. Any other error is returned as is.
func (p *Pool) Request(ctx context.Context, target string, opts RequestOptions) (*Response, error) {
	if opts.Timeout == nil {
		opts.Timeout = support.Timeout(p.timeout)
	}

	started := time.Now()
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		proxy, err := p.GetRandom()
		if err != nil {
			return nil, err
		}

		resp, err := p.requester.Do(ctx, proxy, target, opts)
		if err == nil {
			return resp, nil
		}
		if !support.IsTransient(err) {
			return nil, err
		}

		lastErr = err
		log.Debug("Proxy request failed, retrying", "proxy", proxy, "url", target, "attempt", attempt, "error", err)

		if p.stop != nil && p.stop(attempt, started) {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, lastErr)
		}
	}
}
