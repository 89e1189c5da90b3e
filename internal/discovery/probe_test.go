package discovery

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"proxyfinder/internal/domain"
)

func serverProxy(t *testing.T, srv *httptest.Server) domain.Proxy {
	t.Helper()
	proxy, err := domain.ParseProxy(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("ParseProxy returned error: %v", err)
	}
	return proxy
}

func testProber() HTTPProber {
	return HTTPProber{
		TryURL:         "http://example.com/",
		ConnectTimeout: time.Second,
		CheckTimeout:   time.Second,
	}
}

func TestHTTPProberValid(t *testing.T) {
	seen := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case seen <- r.URL.String():
		default:
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if got := testProber().Probe(context.Background(), serverProxy(t, srv)); got != Valid {
		t.Fatalf("Probe returned %d, want Valid", got)
	}
	if got := <-seen; got != "http://example.com/" {
		t.Fatalf("proxy saw request for %q, want the absolute try url", got)
	}
}

func TestHTTPProberRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	if got := testProber().Probe(context.Background(), serverProxy(t, srv)); got != Open {
		t.Fatalf("Probe returned %d, want Open", got)
	}
}

func TestHTTPProberTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	prober := testProber()
	prober.CheckTimeout = 50 * time.Millisecond
	if got := prober.Probe(context.Background(), serverProxy(t, srv)); got != Open {
		t.Fatalf("Probe returned %d, want Open", got)
	}
}

func TestHTTPProberClosedPort(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	proxy, err := domain.ParseProxy(listener.Addr().String())
	if err != nil {
		t.Fatalf("ParseProxy returned error: %v", err)
	}
	listener.Close()

	if got := testProber().Probe(context.Background(), proxy); got != Closed {
		t.Fatalf("Probe returned %d, want Closed", got)
	}
}

func TestRandomGenerator(t *testing.T) {
	ports := []uint16{8080, 3128}
	generate := RandomGenerator(ports)

	for range 200 {
		proxy := generate()
		ip := net.ParseIP(proxy.Host)
		if ip == nil || ip.To4() == nil {
			t.Fatalf("generated host %q is not an IPv4 address", proxy.Host)
		}
		if !slices.Contains(ports, proxy.Port) {
			t.Fatalf("generated port %d, want one of %v", proxy.Port, ports)
		}
	}
}

func TestRandomGeneratorCustomPorts(t *testing.T) {
	generate := RandomGenerator([]uint16{1080})
	if got := generate().Port; got != 1080 {
		t.Fatalf("generated port %d, want 1080", got)
	}
}
