package checker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"proxyfinder/internal/discovery"
	"proxyfinder/internal/domain"
)

func verdictsByHost(verdicts map[string][]discovery.Verdict) (discovery.Prober, *atomic.Int32) {
	var (
		mu    sync.Mutex
		calls atomic.Int32
		seen  = make(map[string]int)
	)
	prober := discovery.ProberFunc(func(_ context.Context, candidate domain.Proxy) discovery.Verdict {
		calls.Add(1)
		mu.Lock()
		defer mu.Unlock()
		sequence := verdicts[candidate.Host]
		n := seen[candidate.Host]
		seen[candidate.Host]++
		if n >= len(sequence) {
			return discovery.Closed
		}
		return sequence[n]
	})
	return prober, &calls
}

func TestCheckKeepsOrderAndRetries(t *testing.T) {
	prober, calls := verdictsByHost(map[string][]discovery.Verdict{
		"10.0.0.1": {discovery.Valid},
		"10.0.0.2": {discovery.Open, discovery.Valid},
		"10.0.0.3": {discovery.Closed, discovery.Open},
	})
	proxies := []domain.Proxy{
		domain.NewProxy("10.0.0.1", 8080),
		domain.NewProxy("10.0.0.2", 3128),
		domain.NewProxy("10.0.0.3", 8080),
	}

	results := New(prober, WithThreads(2), WithRetries(1)).Check(context.Background(), proxies)

	want := []struct {
		verdict discovery.Verdict
		attempt int
	}{
		{discovery.Valid, 1},
		{discovery.Valid, 2},
		{discovery.Open, 2},
	}
	for i, result := range results {
		if !result.Proxy.Equal(proxies[i]) {
			t.Fatalf("result %d was for %s, want %s", i, result.Proxy, proxies[i])
		}
		if result.Verdict != want[i].verdict || result.Attempt != want[i].attempt {
			t.Fatalf("result %d was %v after %d attempts, want %v after %d", i, result.Verdict, result.Attempt, want[i].verdict, want[i].attempt)
		}
	}
	if got := calls.Load(); got != 5 {
		t.Fatalf("prober was called %d times, want 5", got)
	}

	if results[0].Proxy.LastCheckAt == nil {
		t.Fatal("alive proxy was not marked as checked")
	}
	if results[2].Proxy.LastCheckAt != nil {
		t.Fatal("dead proxy was marked as checked")
	}
	if score := results[0].Proxy.Score; score == nil || *score != 1 {
		t.Fatalf("first try proxy was scored %v, want 1", score)
	}
	if score := results[1].Proxy.Score; score == nil || *score != 0.75 {
		t.Fatalf("second try proxy was scored %v, want 0.75", score)
	}
}

func TestCheckWithoutRetries(t *testing.T) {
	prober, calls := verdictsByHost(map[string][]discovery.Verdict{
		"10.0.0.1": {discovery.Open, discovery.Valid},
	})

	results := New(prober, WithRetries(0)).Check(context.Background(), []domain.Proxy{domain.NewProxy("10.0.0.1", 8080)})
	if results[0].Alive() || calls.Load() != 1 {
		t.Fatalf("Check returned %+v after %d probes, want one failed probe", results[0], calls.Load())
	}
}

func TestCheckCancelled(t *testing.T) {
	prober, calls := verdictsByHost(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	proxies := []domain.Proxy{domain.NewProxy("10.0.0.1", 8080), domain.NewProxy("10.0.0.2", 8080)}
	results := New(prober).Check(ctx, proxies)

	if len(results) != 2 {
		t.Fatalf("Check returned %d results, want 2", len(results))
	}
	for i, result := range results {
		if result.Alive() || !result.Proxy.Equal(proxies[i]) {
			t.Fatalf("result %d was %+v", i, result)
		}
	}
	if calls.Load() != 0 {
		t.Fatalf("prober was called %d times with a cancelled context", calls.Load())
	}
}

func TestCheckEmpty(t *testing.T) {
	prober, _ := verdictsByHost(nil)
	if results := New(prober).Check(context.Background(), nil); len(results) != 0 {
		t.Fatalf("Check returned %d results for no proxies", len(results))
	}
}

func TestSplit(t *testing.T) {
	alive, dead := Split([]Result{
		{Proxy: domain.NewProxy("10.0.0.1", 8080), Verdict: discovery.Valid},
		{Proxy: domain.NewProxy("10.0.0.2", 8080), Verdict: discovery.Open},
		{Proxy: domain.NewProxy("10.0.0.3", 8080), Verdict: discovery.Valid},
	})
	if len(alive) != 2 || alive[1].Host != "10.0.0.3" {
		t.Fatalf("Split returned alive %v", alive)
	}
	if len(dead) != 1 || dead[0].Host != "10.0.0.2" {
		t.Fatalf("Split returned dead %v", dead)
	}
}
