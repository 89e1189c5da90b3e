package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"proxyfinder/internal/config"
)

func newListServer(t *testing.T, robots string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var robotsHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			robotsHits.Add(1)
			if robots == "" {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(robots))
		case "/list":
			if r.Header.Get("User-Agent") != DefaultUserAgent {
				t.Errorf("User-Agent was %q, want %q", r.Header.Get("User-Agent"), DefaultUserAgent)
			}
			_, _ = w.Write([]byte("<tr><td>3.80.37.204</td><td>3128</td></tr>\n51.158.68.133:8811\n"))
		case "/more":
			_, _ = w.Write([]byte("51.158.68.133:8811\n8.8.8.8:80\n"))
		case "/private/list":
			_, _ = w.Write([]byte("9.9.9.9:53\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &robotsHits
}

func TestScrapeExtractsProxies(t *testing.T) {
	srv, _ := newListServer(t, "")

	proxies, err := New().Scrape(context.Background(), srv.URL+"/list")
	if err != nil {
		t.Fatalf("Scrape returned error: %v", err)
	}
	if len(proxies) != 2 || proxies[0].Key() != "3.80.37.204:3128" || proxies[1].Key() != "51.158.68.133:8811" {
		t.Fatalf("Scrape returned %v", proxies)
	}
}

func TestScrapeHonoursRobots(t *testing.T) {
	srv, robotsHits := newListServer(t, "User-agent: *\nDisallow: /private/\n")
	s := New()

	if _, err := s.Scrape(context.Background(), srv.URL+"/private/list"); !errors.Is(err, ErrDisallowed) {
		t.Fatalf("Scrape returned %v, want ErrDisallowed", err)
	}
	if _, err := s.Scrape(context.Background(), srv.URL+"/list"); err != nil {
		t.Fatalf("Scrape of an allowed page returned error: %v", err)
	}
	if got := robotsHits.Load(); got != 1 {
		t.Fatalf("robots.txt was fetched %d times, want 1", got)
	}

	proxies, err := New(WithRobots(false)).Scrape(context.Background(), srv.URL+"/private/list")
	if err != nil || len(proxies) != 1 {
		t.Fatalf("Scrape without robots returned %v, %v", proxies, err)
	}
}

func TestScrapeRefusesBlockedWebsite(t *testing.T) {
	previous := config.GetConfig()
	t.Cleanup(func() { config.Override(previous) })
	cfg := previous
	cfg.BlockedWebsites = []string{"blocked.example"}
	config.Override(cfg)

	if _, err := New().Scrape(context.Background(), "http://www.blocked.example/list"); !errors.Is(err, ErrBlocked) {
		t.Fatalf("Scrape returned %v, want ErrBlocked", err)
	}
}

func TestScrapeAllMergesInOrder(t *testing.T) {
	srv, _ := newListServer(t, "")

	proxies, err := New().ScrapeAll(context.Background(), []string{srv.URL + "/list", srv.URL + "/missing", srv.URL + "/more"})
	if err != nil {
		t.Fatalf("ScrapeAll returned error: %v", err)
	}

	want := []string{"3.80.37.204:3128", "51.158.68.133:8811", "8.8.8.8:80"}
	if len(proxies) != len(want) {
		t.Fatalf("ScrapeAll returned %v, want %v", proxies, want)
	}
	for i, proxy := range proxies {
		if proxy.Key() != want[i] {
			t.Fatalf("proxy %d was %s, want %s", i, proxy, want[i])
		}
	}
}

func TestScrapeAllFailsWhenEveryPageFails(t *testing.T) {
	srv, _ := newListServer(t, "")

	if _, err := New().ScrapeAll(context.Background(), []string{srv.URL + "/missing"}); err == nil {
		t.Fatal("ScrapeAll returned no error when every page failed")
	}
}

func TestSourceLoadsProxies(t *testing.T) {
	srv, _ := newListServer(t, "")

	proxies, err := Source{Scraper: New(), URLs: []string{srv.URL + "/more"}}.LoadProxies(context.Background())
	if err != nil || len(proxies) != 2 {
		t.Fatalf("LoadProxies returned %v, %v", proxies, err)
	}
}
