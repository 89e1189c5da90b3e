// Package pool holds a fixed set of proxies and dispatches requests through
// them with failover, one at a time or as a concurrent batch.
package pool

import (
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"slices"
	"time"

	"proxyfinder/internal/domain"
	"proxyfinder/internal/support"
)

const (
	DefaultMaxThreads = 1000
	DefaultTimeout    = 3 * time.Second
)

var (
	ErrPool                 = errors.New("pool error")
	ErrEmptyPool            = fmt.Errorf("%w: pool is empty", ErrPool)
	ErrUnreachableDirectory = fmt.Errorf("%w: proxy directory is unreachable", ErrPool)
	ErrRetriesExhausted     = fmt.Errorf("%w: retries exhausted", ErrPool)
)

type (
	RequestOptions = support.RequestOptions
	Response       = support.Response
)

// Pool membership is fixed at construction. All methods are safe for
// concurrent use.
type Pool struct {
	proxies    []domain.Proxy
	maxThreads int
	timeout    time.Duration
	requester  Requester
	selector   Selector
	stop       StopCondition
}

type Option func(*Pool)

func WithMaxThreads(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxThreads = n
		}
	}
}

// WithTimeout sets the timeout used when a request does not carry its own.
// Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d >= 0 {
			p.timeout = d
		}
	}
}

func WithRequester(r Requester) Option {
	return func(p *Pool) {
		if r != nil {
			p.requester = r
		}
	}
}

func WithSelector(s Selector) Option {
	return func(p *Pool) {
		if s != nil {
			p.selector = s
		}
	}
}

// WithStopCondition bounds the otherwise endless retry loop of Request.
func WithStopCondition(s StopCondition) Option {
	return func(p *Pool) {
		p.stop = s
	}
}

func New(proxies []domain.Proxy, opts ...Option) *Pool {
	p := &Pool{
		proxies:    slices.Clone(proxies),
		maxThreads: DefaultMaxThreads,
		timeout:    DefaultTimeout,
		requester:  support.HTTPRequester{},
		selector:   UniformSelector,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) Len() int {
	return len(p.proxies)
}

func (p *Pool) Empty() bool {
	return len(p.proxies) == 0
}

func (p *Pool) MaxThreads() int {
	return p.maxThreads
}

func (p *Pool) Timeout() time.Duration {
	return p.timeout
}

// Proxies returns a copy of the members in pool order.
func (p *Pool) Proxies() []domain.Proxy {
	return slices.Clone(p.proxies)
}

func (p *Pool) All() iter.Seq[domain.Proxy] {
	return slices.Values(p.proxies)
}

func (p *Pool) GetRandom() (domain.Proxy, error) {
	if len(p.proxies) == 0 {
		return domain.Proxy{}, ErrEmptyPool
	}
	return p.selector(p.proxies), nil
}

// GetRandomMany returns count distinct members in random order. A count at or
// above the pool size yields a permutation of the whole pool.
func (p *Pool) GetRandomMany(count int) ([]domain.Proxy, error) {
	if len(p.proxies) == 0 {
		return nil, ErrEmptyPool
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: negative count %d", ErrPool, count)
	}

	shuffled := slices.Clone(p.proxies)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:min(count, len(shuffled))], nil
}
