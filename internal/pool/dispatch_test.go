package pool

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"proxyfinder/internal/domain"
	"proxyfinder/internal/support"
)

var errFatal = errors.New("malformed request")

// fakeRequester answers according to the proxy used: proxies in good succeed
// with a body derived from the url, proxies in fatal fail permanently and
// every other proxy fails with a refused connection.
type fakeRequester struct {
	good  map[string]bool
	fatal map[string]bool
	calls atomic.Int64
}

func newFakeRequester(good []domain.Proxy, fatal ...domain.Proxy) *fakeRequester {
	f := &fakeRequester{good: make(map[string]bool), fatal: make(map[string]bool)}
	for _, proxy := range good {
		f.good[proxy.Key()] = true
	}
	for _, proxy := range fatal {
		f.fatal[proxy.Key()] = true
	}
	return f
}

func (f *fakeRequester) Do(_ context.Context, proxy domain.Proxy, target string, opts RequestOptions) (*Response, error) {
	f.calls.Add(1)
	switch {
	case f.good[proxy.Key()]:
		return &Response{URL: target, StatusCode: 200, Body: []byte(opts.Method + " " + target)}, nil
	case f.fatal[proxy.Key()]:
		return nil, errFatal
	default:
		return nil, &net.OpError{Op: "proxyconnect", Net: "tcp", Err: syscall.ECONNREFUSED}
	}
}

func TestRequestEventuallySucceeds(t *testing.T) {
	proxies := testProxies(10)
	requester := newFakeRequester(proxies[7:8])
	p := New(proxies, WithRequester(requester))

	resp, err := p.Request(context.Background(), "http://example.com/", RequestOptions{Method: "GET"})
	if err != nil {
		t.Fatalf("Request returned error: %v", err)
	}
	if resp.Text() != "GET http://example.com/" {
		t.Fatalf("Request returned body %q", resp.Text())
	}
	if requester.calls.Load() < 1 {
		t.Fatal("Request never called the requester")
	}
}

func TestRequestRetriesWithFreshSelection(t *testing.T) {
	proxies := testProxies(3)
	var picks atomic.Int64
	selector := func(members []domain.Proxy) domain.Proxy {
		return members[int(picks.Add(1)-1)%len(members)]
	}
	p := New(proxies, WithRequester(newFakeRequester(proxies[2:])), WithSelector(selector))

	if _, err := p.Request(context.Background(), "http://example.com/", RequestOptions{}); err != nil {
		t.Fatalf("Request returned error: %v", err)
	}
	if got := picks.Load(); got != 3 {
		t.Fatalf("selector was consulted %d times, want 3", got)
	}
}

func TestRequestPropagatesNonTransientError(t *testing.T) {
	proxies := testProxies(1)
	requester := newFakeRequester(nil, proxies[0])
	p := New(proxies, WithRequester(requester))

	if _, err := p.Request(context.Background(), "http://example.com/", RequestOptions{}); !errors.Is(err, errFatal) {
		t.Fatalf("Request returned %v, want errFatal", err)
	}
	if got := requester.calls.Load(); got != 1 {
		t.Fatalf("requester was called %d times, want 1", got)
	}
}

func TestRequestEmptyPool(t *testing.T) {
	p := New(nil, WithRequester(newFakeRequester(nil)))
	if _, err := p.Request(context.Background(), "http://example.com/", RequestOptions{}); !errors.Is(err, ErrEmptyPool) {
		t.Fatalf("Request on empty pool returned %v, want ErrEmptyPool", err)
	}
}

func TestRequestAppliesDefaultTimeout(t *testing.T) {
	proxies := testProxies(1)
	var seen []*time.Duration
	requester := RequesterFunc(func(_ context.Context, _ domain.Proxy, target string, opts RequestOptions) (*Response, error) {
		seen = append(seen, opts.Timeout)
		return &Response{URL: target}, nil
	})
	p := New(proxies, WithRequester(requester), WithTimeout(1500*time.Millisecond))

	if _, err := p.Request(context.Background(), "http://a/", RequestOptions{}); err != nil {
		t.Fatalf("Request returned error: %v", err)
	}
	if _, err := p.Request(context.Background(), "http://b/", RequestOptions{Timeout: support.Timeout(0)}); err != nil {
		t.Fatalf("Request returned error: %v", err)
	}

	if seen[0] == nil || *seen[0] != 1500*time.Millisecond {
		t.Fatalf("default timeout was %v, want 1.5s", seen[0])
	}
	if seen[1] == nil || *seen[1] != 0 {
		t.Fatalf("explicit zero timeout was %v, want 0", seen[1])
	}
}

func TestRequestStopConditions(t *testing.T) {
	proxies := testProxies(4)

	t.Run("max attempts", func(t *testing.T) {
		requester := newFakeRequester(nil)
		p := New(proxies, WithRequester(requester), WithStopCondition(MaxAttempts(5)))

		_, err := p.Request(context.Background(), "http://example.com/", RequestOptions{})
		if !errors.Is(err, ErrRetriesExhausted) {
			t.Fatalf("Request returned %v, want ErrRetriesExhausted", err)
		}
		if !errors.Is(err, syscall.ECONNREFUSED) {
			t.Fatalf("Request error %v does not carry the last transient error", err)
		}
		if got := requester.calls.Load(); got != 5 {
			t.Fatalf("requester was called %d times, want 5", got)
		}
	})

	t.Run("deadline", func(t *testing.T) {
		p := New(proxies, WithRequester(newFakeRequester(nil)), WithStopCondition(AnyOf(nil, Deadline(20*time.Millisecond))))

		start := time.Now()
		if _, err := p.Request(context.Background(), "http://example.com/", RequestOptions{}); !errors.Is(err, ErrRetriesExhausted) {
			t.Fatalf("Request returned %v, want ErrRetriesExhausted", err)
		}
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Fatalf("Request took %v to give up", elapsed)
		}
	})
}

func TestRequestStopsOnContextCancel(t *testing.T) {
	p := New(testProxies(2), WithRequester(newFakeRequester(nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := p.Request(ctx, "http://example.com/", RequestOptions{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Request returned %v, want context.DeadlineExceeded", err)
	}
}
