package discovery

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"proxyfinder/internal/domain"
)

// sequenceGenerator hands out the given candidates once each, then an endless
// stream of filler addresses.
func sequenceGenerator(first []domain.Proxy) (Generator, *atomic.Int64) {
	var next atomic.Int64
	return func() domain.Proxy {
		i := int(next.Add(1) - 1)
		if i < len(first) {
			return first[i]
		}
		return domain.NewProxy("192.0.2."+strconv.Itoa(i%256), 8080)
	}, &next
}

func setProber(valid []domain.Proxy) Prober {
	return ProberFunc(func(_ context.Context, candidate domain.Proxy) Verdict {
		for _, proxy := range valid {
			if proxy.Equal(candidate) {
				return Valid
			}
		}
		return Closed
	})
}

// assertIdle fails when the generator is still being called after the
// search returned.
func assertIdle(t *testing.T, calls *atomic.Int64) {
	t.Helper()
	before := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if after := calls.Load(); after != before {
		t.Fatalf("workers still running: generator called %d more times", after-before)
	}
}

func TestSearchZeroJoins(t *testing.T) {
	generate, calls := sequenceGenerator(nil)
	engine := New(Config{Threads: 8}, WithGenerator(generate), WithProber(setProber(nil)))

	proxies, err := engine.Find(context.Background(), 0)
	if err != nil {
		t.Fatalf("Find returned error: %v", err)
	}
	if len(proxies) != 0 {
		t.Fatalf("Find returned %d proxies, want 0", len(proxies))
	}
	assertIdle(t, calls)
}

func TestSearchFindsSyntheticProxies(t *testing.T) {
	valid := []domain.Proxy{
		domain.NewProxy("198.51.100.1", 8080),
		domain.NewProxy("198.51.100.2", 3128),
		domain.NewProxy("198.51.100.3", 8080),
	}
	// Put the valid ones behind a few failing candidates.
	candidates := []domain.Proxy{
		domain.NewProxy("203.0.113.1", 8080),
		valid[0],
		domain.NewProxy("203.0.113.2", 3128),
		valid[1],
		valid[2],
	}
	generate, calls := sequenceGenerator(candidates)
	engine := New(Config{Threads: 4}, WithGenerator(generate), WithProber(setProber(valid)))

	var found []domain.Proxy
	for proxy := range engine.Search(context.Background(), 3) {
		found = append(found, proxy)
	}

	if len(found) != 3 {
		t.Fatalf("Search yielded %d proxies, want 3", len(found))
	}
	for _, proxy := range valid {
		if !slices.ContainsFunc(found, proxy.Equal) {
			t.Fatalf("Search result %v is missing %s", found, proxy)
		}
		if proxy.LastCheckAt != nil {
			t.Fatal("Search mutated the generated candidate")
		}
	}
	for _, proxy := range found {
		if proxy.CreatedAt == nil || proxy.LastCheckAt == nil {
			t.Fatalf("found proxy %s has no check timestamps", proxy)
		}
	}
	assertIdle(t, calls)

	stats := engine.Stats()
	if stats.Found != 3 || stats.Reachable != 3 || stats.Probed < 5 {
		t.Fatalf("Stats returned %+v, want 3 found out of at least 5 probed", stats)
	}
}

func TestSearchEarlyBreakJoins(t *testing.T) {
	var calls atomic.Int64
	generate := func() domain.Proxy {
		return domain.NewProxy("198.51.100."+strconv.Itoa(int(calls.Add(1)%256)), 8080)
	}
	always := ProberFunc(func(context.Context, domain.Proxy) Verdict { return Valid })
	engine := New(Config{Threads: 3}, WithGenerator(generate), WithProber(always))

	taken := 0
	for range engine.Search(context.Background(), 100) {
		taken++
		if taken == 2 {
			break
		}
	}

	if taken != 2 {
		t.Fatalf("loop took %d proxies, want 2", taken)
	}
	assertIdle(t, &calls)
}

func TestSearchUnlimited(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	always := ProberFunc(func(context.Context, domain.Proxy) Verdict {
		time.Sleep(time.Millisecond)
		return Valid
	})
	engine := New(Config{Threads: 2}, WithProber(always))

	taken := 0
	for proxy := range engine.Search(ctx, Unlimited) {
		if !slices.Contains(DefaultPorts, proxy.Port) {
			t.Fatalf("Search yielded port %d outside the default set", proxy.Port)
		}
		taken++
		if taken == 25 {
			break
		}
	}
	if taken != 25 {
		t.Fatalf("loop took %d proxies, want 25", taken)
	}
}

func TestSearchStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	generate, calls := sequenceGenerator(nil)
	engine := New(Config{Threads: 4}, WithGenerator(generate), WithProber(setProber(nil)))

	proxies, err := engine.Find(ctx, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Find returned %v, want context.DeadlineExceeded", err)
	}
	if len(proxies) != 0 {
		t.Fatalf("Find returned %d proxies, want 0", len(proxies))
	}
	assertIdle(t, calls)
}

func TestFindHugeCountStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	valid := []domain.Proxy{domain.NewProxy("198.51.100.9", 8080)}
	generate, calls := sequenceGenerator(valid)
	engine := New(Config{Threads: 2}, WithGenerator(generate), WithProber(setProber(valid)))

	proxies, err := engine.Find(ctx, 1<<30)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Find returned %v, want context.DeadlineExceeded", err)
	}
	if len(proxies) != 1 || !proxies[0].Equal(valid[0]) {
		t.Fatalf("Find returned %v, want %v", proxies, valid)
	}
	assertIdle(t, calls)
}

func TestStartLifecycle(t *testing.T) {
	valid := []domain.Proxy{domain.NewProxy("198.51.100.7", 3128)}
	generate, _ := sequenceGenerator(valid)
	engine := New(Config{Threads: 2}, WithGenerator(generate), WithProber(setProber(valid)))

	search := engine.Start(context.Background())
	if got := search.State(); got != StateRunning {
		t.Fatalf("State after Start was %s, want running", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	proxy, err := search.Next(ctx)
	if err != nil {
		t.Fatalf("Next returned error: %v", err)
	}
	if !proxy.Equal(valid[0]) {
		t.Fatalf("Next returned %s, want %s", proxy, valid[0])
	}

	search.Stop()
	if got := search.State(); got != StateStopped {
		t.Fatalf("State after Stop was %s, want stopped", got)
	}
	search.Wait()
	if got := search.State(); got != StateTerminated {
		t.Fatalf("State after Wait was %s, want terminated", got)
	}

	// Stop and Close are safe to repeat.
	search.Stop()
	search.Close()
}

func TestSearchesAreIndependent(t *testing.T) {
	always := ProberFunc(func(context.Context, domain.Proxy) Verdict { return Valid })
	engine := New(Config{Threads: 2}, WithProber(always))

	first := engine.Start(context.Background())
	first.Close()
	pending := first.Pending()

	second := engine.Start(context.Background())
	defer second.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := second.Next(ctx); err != nil {
		t.Fatalf("Next on second search returned error: %v", err)
	}
	if got := first.Pending(); got != pending {
		t.Fatalf("first search queue changed from %d to %d after it was closed", pending, got)
	}
	if first.State() != StateTerminated || second.State() != StateRunning {
		t.Fatalf("states were %s and %s, want terminated and running", first.State(), second.State())
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := New(Config{}).Config()

	if cfg.Threads != 1 {
		t.Fatalf("Threads defaulted to %d, want 1", cfg.Threads)
	}
	if got := New(Config{Threads: -3}).Config().Threads; got != 1 {
		t.Fatalf("Threads -3 became %d, want 1", got)
	}
	if cfg.TryURL != DefaultTryURL {
		t.Fatalf("TryURL defaulted to %s, want %s", cfg.TryURL, DefaultTryURL)
	}
	if cfg.CheckTimeout != 3*time.Second || cfg.ConnectTimeout != time.Second {
		t.Fatalf("timeouts defaulted to %v/%v, want 3s/1s", cfg.CheckTimeout, cfg.ConnectTimeout)
	}
	if !slices.Equal(cfg.Ports, []uint16{8080, 3128}) {
		t.Fatalf("Ports defaulted to %v, want [8080 3128]", cfg.Ports)
	}
}
