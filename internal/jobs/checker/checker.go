// Package checker re-validates known proxies locally with the same probe the
// discovery engine uses for fresh candidates.
package checker

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"proxyfinder/internal/discovery"
	"proxyfinder/internal/domain"
	"proxyfinder/internal/support/reputation"
)

const (
	DefaultThreads = 32
	DefaultRetries = 1
)

// Result is the outcome of checking one proxy. Attempt counts the probes
// that were needed, so it is Retries+1 for a proxy that never passed.
type Result struct {
	Proxy        domain.Proxy
	Verdict      discovery.Verdict
	Attempt      int
	ResponseTime time.Duration
}

func (r Result) Alive() bool {
	return r.Verdict == discovery.Valid
}

type Checker struct {
	prober  discovery.Prober
	threads int
	retries int
	now     func() time.Time
}

type Option func(*Checker)

func WithThreads(n int) Option {
	return func(c *Checker) {
		if n > 0 {
			c.threads = n
		}
	}
}

// WithRetries sets how many extra probes a failing proxy gets.
func WithRetries(n int) Option {
	return func(c *Checker) {
		if n >= 0 {
			c.retries = n
		}
	}
}

func New(prober discovery.Prober, opts ...Option) *Checker {
	c := &Checker{
		prober:  prober,
		threads: DefaultThreads,
		retries: DefaultRetries,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check probes every proxy and returns the results index-aligned with
// proxies. Alive proxies come back marked as checked and scored. Proxies left when ctx
// ends keep the zero verdict.
func (c *Checker) Check(ctx context.Context, proxies []domain.Proxy) []Result {
	results := make([]Result, len(proxies))
	if len(proxies) == 0 {
		return results
	}
	for i, proxy := range proxies {
		results[i].Proxy = proxy
	}

	jobs := make(chan int)
	done := make(chan struct{})
	threads := min(c.threads, len(proxies))

	for range threads {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := range jobs {
				results[i] = c.checkWithRetries(ctx, proxies[i])
			}
		}()
	}

feed:
	for i := range proxies {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	for range threads {
		<-done
	}

	log.Debug("Checker finished", "proxies", len(proxies), "threads", threads)
	return results
}

func (c *Checker) checkWithRetries(ctx context.Context, proxy domain.Proxy) Result {
	result := Result{Proxy: proxy}
	for attempt := 1; attempt <= c.retries+1; attempt++ {
		if ctx.Err() != nil {
			break
		}

		start := c.now()
		result.Verdict = c.prober.Probe(ctx, proxy)
		result.ResponseTime = c.now().Sub(start)
		result.Attempt = attempt

		if result.Alive() {
			now := c.now()
			result.Proxy.MarkChecked(now)
			score := reputation.Score(reputation.Metrics{
				Attempts:     attempt,
				Successes:    1,
				ResponseTime: result.ResponseTime,
				LatestCheck:  result.Proxy.LastCheckAt,
			}, now, nil)
			result.Proxy.Score = &score
			break
		}
	}
	return result
}

// Split separates alive from dead proxies, keeping the input order.
func Split(results []Result) (alive, dead []domain.Proxy) {
	for _, result := range results {
		if result.Alive() {
			alive = append(alive, result.Proxy)
			continue
		}
		dead = append(dead, result.Proxy)
	}
	return alive, dead
}
