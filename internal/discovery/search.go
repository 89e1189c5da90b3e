package discovery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"proxyfinder/internal/domain"
	"proxyfinder/internal/jobs/queue/memory"
)

type State uint32

const (
	StateInit State = iota
	StateRunning
	StateStopped
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateTerminated:
		return "terminated"
	default:
		return "init"
	}
}

// Search is one running worker set. Workers keep probing until Stop is
// called or the context given to Start ends; the flag is checked once per
// iteration so an in-flight probe always finishes.
type Search struct {
	engine  *Engine
	found   *memory.Queue[domain.Proxy]
	stopped atomic.Bool
	state   atomic.Uint32
	wg      sync.WaitGroup
}

func (s *Search) run(ctx context.Context, threads int) {
	s.state.Store(uint32(StateRunning))
	for range threads {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.work(ctx)
		}()
	}
}

func (s *Search) work(ctx context.Context) {
	for !s.stopped.Load() && ctx.Err() == nil {
		candidate := s.engine.generate()
		s.engine.probed.Add(1)

		verdict := s.engine.prober.Probe(ctx, candidate)
		if verdict >= Open {
			s.engine.reachable.Add(1)
		}
		if verdict != Valid {
			continue
		}

		s.engine.found.Add(1)
		candidate.MarkChecked(time.Now())
		s.found.Push(candidate)
	}
}

// Next blocks until a worker has validated a proxy or ctx ends.
func (s *Search) Next(ctx context.Context) (domain.Proxy, error) {
	return s.found.Pop(ctx)
}

// Stop asks every worker to exit after its current iteration.
func (s *Search) Stop() {
	if s.stopped.CompareAndSwap(false, true) {
		s.state.CompareAndSwap(uint32(StateRunning), uint32(StateStopped))
	}
}

// Wait joins all workers.
func (s *Search) Wait() {
	s.wg.Wait()
	s.state.Store(uint32(StateTerminated))
}

func (s *Search) Close() {
	s.Stop()
	s.Wait()
}

func (s *Search) State() State {
	return State(s.state.Load())
}

// Pending is the number of validated proxies nobody has taken yet.
func (s *Search) Pending() int {
	return s.found.Len()
}
