package discovery

import (
	"context"
	"iter"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"proxyfinder/internal/domain"
	"proxyfinder/internal/jobs/queue/memory"
)

// Engine discovers open HTTP proxies by probing random IPv4 addresses.
// It holds no state between searches apart from its counters.
type Engine struct {
	cfg      Config
	generate Generator
	prober   Prober

	probed    atomic.Int64
	reachable atomic.Int64
	found     atomic.Int64
}

type Option func(*Engine)

func WithGenerator(generate Generator) Option {
	return func(e *Engine) {
		if generate != nil {
			e.generate = generate
		}
	}
}

func WithProber(prober Prober) Option {
	return func(e *Engine) {
		if prober != nil {
			e.prober = prober
		}
	}
}

func New(cfg Config, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.generate == nil {
		e.generate = RandomGenerator(cfg.Ports)
	}
	if e.prober == nil {
		e.prober = HTTPProber{
			TryURL:         cfg.TryURL,
			ConnectTimeout: cfg.ConnectTimeout,
			CheckTimeout:   cfg.CheckTimeout,
		}
	}
	return e
}

func (e *Engine) Config() Config {
	cfg := e.cfg
	cfg.Ports = append([]uint16(nil), cfg.Ports...)
	return cfg
}

// Start launches a fresh worker set. The caller owns the returned Search
// and must Stop or Close it, or cancel ctx.
func (e *Engine) Start(ctx context.Context) *Search {
	s := &Search{
		engine: e,
		found:  memory.New[domain.Proxy](),
	}
	s.run(ctx, e.cfg.Threads)
	log.Debug("Discovery started", "threads", e.cfg.Threads, "ports", e.cfg.Ports, "try_url", e.cfg.TryURL)
	return s
}

// Search yields validated proxies in the order workers produce them.
//
// With count >= 0 exactly count proxies are yielded, after which the workers
// are stopped and joined before the sequence returns. Breaking out early
// stops and joins as well. With a negative count (Unlimited) the sequence
// never ends on its own; leaving the loop only raises the stop flag and the
// workers are bounded by ctx.
func (e *Engine) Search(ctx context.Context, count int) iter.Seq[domain.Proxy] {
	return func(yield func(domain.Proxy) bool) {
		s := e.Start(ctx)

		if count < 0 {
			defer s.Stop()
			for {
				proxy, err := s.Next(ctx)
				if err != nil || !yield(proxy) {
					return
				}
			}
		}

		defer func() {
			s.Close()
			log.Debug("Discovery finished", "wanted", count, "probed", e.probed.Load(), "found", e.found.Load())
		}()
		for range count {
			proxy, err := s.Next(ctx)
			if err != nil || !yield(proxy) {
				return
			}
		}
	}
}

const findCapHint = 1024

// Find collects count proxies. It returns what it found so far together with
// ctx.Err() when ctx ends first.
func (e *Engine) Find(ctx context.Context, count int) ([]domain.Proxy, error) {
	if count < 0 {
		count = 0
	}
	// count can be huge, so only a bounded capacity is reserved.
	proxies := make([]domain.Proxy, 0, min(count, findCapHint))
	for proxy := range e.Search(ctx, count) {
		proxies = append(proxies, proxy)
	}
	if len(proxies) < count {
		return proxies, ctx.Err()
	}
	return proxies, nil
}

type Stats struct {
	Probed    int64
	Reachable int64
	Found     int64
}

// Stats are cumulative over every search of the engine.
func (e *Engine) Stats() Stats {
	return Stats{
		Probed:    e.probed.Load(),
		Reachable: e.reachable.Load(),
		Found:     e.found.Load(),
	}
}
