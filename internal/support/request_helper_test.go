package support

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"proxyfinder/internal/config"
	"proxyfinder/internal/domain"
)

// newForwardProxy starts a server that answers absolute-form requests the
// way a plain HTTP proxy would, echoing what it received.
func newForwardProxy(t *testing.T) (*httptest.Server, domain.Proxy) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Proxied-Url", r.URL.String())
		w.Header().Set("X-Seen-Content-Type", r.Header.Get("Content-Type"))
		w.Header().Set("X-Seen-Token", r.Header.Get("X-Token"))
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)

	return server, proxyFromServer(t, server)
}

func proxyFromServer(t *testing.T, server *httptest.Server) domain.Proxy {
	t.Helper()

	parsed, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	host, rawPort, err := net.SplitHostPort(parsed.Host)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return domain.NewProxy(host, uint16(port))
}

func TestProxyRequestGoesThroughProxy(t *testing.T) {
	_, proxy := newForwardProxy(t)

	opts := RequestOptions{
		Method:  "post",
		Scheme:  "http",
		Params:  url.Values{"q": {"1"}},
		Data:    url.Values{"name": {"value"}},
		Headers: http.Header{"X-Token": {"abc"}},
		Timeout: Timeout(2 * time.Second),
	}

	resp, err := ProxyRequest(context.Background(), proxy, "http://target.invalid/path", opts, 0)
	if err != nil {
		t.Fatalf("ProxyRequest returned error: %v", err)
	}

	if resp.StatusCode != http.StatusTeapot {
		t.Fatalf("StatusCode was %d, want %d", resp.StatusCode, http.StatusTeapot)
	}
	if got := resp.Header.Get("X-Proxied-Url"); got != "http://target.invalid/path?q=1" {
		t.Fatalf("proxy saw url %q, want http://target.invalid/path?q=1", got)
	}
	if got := resp.Header.Get("X-Seen-Content-Type"); got != "application/x-www-form-urlencoded" {
		t.Fatalf("proxy saw content type %q", got)
	}
	if got := resp.Header.Get("X-Seen-Token"); got != "abc" {
		t.Fatalf("proxy saw token %q, want abc", got)
	}
	if resp.Text() != "name=value" {
		t.Fatalf("body was %q, want name=value", resp.Text())
	}
	if !resp.Proxy.Equal(proxy) {
		t.Fatalf("response proxy was %s, want %s", resp.Proxy, proxy)
	}
}

func TestProxyRequestBypassesProxyForOtherScheme(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("direct"))
	}))
	defer target.Close()

	// Nothing listens on the proxy address; the request must not touch it.
	dead := domain.NewProxy("127.0.0.1", 1)

	resp, err := ProxyRequest(context.Background(), dead, target.URL, RequestOptions{Scheme: "https", Timeout: Timeout(2 * time.Second)}, 0)
	if err != nil {
		t.Fatalf("ProxyRequest returned error: %v", err)
	}
	if resp.Text() != "direct" {
		t.Fatalf("body was %q, want direct", resp.Text())
	}
}

func TestProxyRequestDeadProxyIsTransient(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().(*net.TCPAddr)
	_ = listener.Close()

	dead := domain.NewProxy("127.0.0.1", uint16(addr.Port))
	_, err = ProxyRequest(context.Background(), dead, "http://example.com/", RequestOptions{Scheme: "http", Timeout: Timeout(time.Second)}, 0)
	if err == nil {
		t.Fatal("ProxyRequest through a closed port returned nil error")
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient(%v) = false, want true", err)
	}
}

func TestProxyRequestRejectsRelativeURL(t *testing.T) {
	_, err := ProxyRequest(context.Background(), domain.NewProxy("127.0.0.1", 1), "/relative", RequestOptions{}, 0)
	if err == nil {
		t.Fatal("ProxyRequest accepted a relative url")
	}
	if IsTransient(err) {
		t.Fatalf("IsTransient(%v) = true, want false", err)
	}
}

func TestProxyRequestRefusesBlockedWebsite(t *testing.T) {
	previous := config.GetConfig()
	blocked := previous
	blocked.BlockedWebsites = []string{"blocked.example"}
	config.Override(blocked)
	t.Cleanup(func() { config.Override(previous) })

	_, err := ProxyRequest(context.Background(), domain.NewProxy("127.0.0.1", 1), "https://www.blocked.example/", RequestOptions{}, 0)
	if !errors.Is(err, ErrBlockedWebsite) {
		t.Fatalf("ProxyRequest returned %v, want ErrBlockedWebsite", err)
	}
	if IsTransient(err) {
		t.Fatalf("IsTransient(%v) = true, want false", err)
	}
}

func TestRequestOptionsMerge(t *testing.T) {
	common := RequestOptions{
		Method:  "GET",
		Scheme:  "http",
		Headers: http.Header{"User-Agent": {"common"}, "Accept": {"*/*"}},
		Params:  url.Values{"a": {"1"}},
		Timeout: Timeout(time.Second),
	}
	own := RequestOptions{
		Method:  "POST",
		Headers: http.Header{"User-Agent": {"own"}},
		Params:  url.Values{"b": {"2"}},
	}

	merged := own.Merge(common)
	if merged.Method != "POST" || merged.Scheme != "http" {
		t.Fatalf("Merge returned method %q scheme %q, want POST http", merged.Method, merged.Scheme)
	}
	if got := merged.Headers.Get("User-Agent"); got != "own" {
		t.Fatalf("merged User-Agent was %q, want own", got)
	}
	if got := merged.Headers.Get("Accept"); got != "*/*" {
		t.Fatalf("merged Accept was %q, want */*", got)
	}
	if merged.Params.Get("a") != "1" || merged.Params.Get("b") != "2" {
		t.Fatalf("merged params were %v", merged.Params)
	}
	if merged.Timeout == nil || *merged.Timeout != time.Second {
		t.Fatalf("merged timeout was %v, want 1s", merged.Timeout)
	}
	if common.Headers.Get("User-Agent") != "common" {
		t.Fatal("Merge mutated the common headers")
	}
}
