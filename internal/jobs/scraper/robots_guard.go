package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const robotsCacheTTL = time.Hour

type robotsCacheEntry struct {
	data    *robotstxt.RobotsData
	fetched time.Time
}

type robotsCache struct {
	mu      sync.Mutex
	entries map[string]robotsCacheEntry
}

type RobotsCheckResult struct {
	Allowed     bool
	RobotsFound bool
}

// checkRobotsAllowance reports whether robots.txt of the target's host lets
// the scraper's user agent fetch it. A missing or unreadable robots.txt
// allows everything.
func (s *Scraper) checkRobotsAllowance(ctx context.Context, parsed *url.URL) (RobotsCheckResult, error) {
	entry, err := s.loadRobotsEntry(ctx, parsed)
	if err != nil {
		return RobotsCheckResult{Allowed: true}, err
	}
	if entry.data == nil {
		return RobotsCheckResult{Allowed: true}, nil
	}

	group := entry.data.FindGroup(s.userAgent)
	if group == nil {
		return RobotsCheckResult{Allowed: true, RobotsFound: true}, nil
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	return RobotsCheckResult{
		Allowed:     group.Test(path),
		RobotsFound: true,
	}, nil
}

func (s *Scraper) loadRobotsEntry(ctx context.Context, parsed *url.URL) (robotsCacheEntry, error) {
	key := robotsCacheKey(parsed)

	s.robots.mu.Lock()
	entry, ok := s.robots.entries[key]
	if ok && time.Since(entry.fetched) > robotsCacheTTL {
		delete(s.robots.entries, key)
		ok = false
	}
	s.robots.mu.Unlock()
	if ok {
		return entry, nil
	}

	entry, err := s.fetchRobotsEntry(ctx, parsed)
	if err != nil {
		return entry, err
	}
	entry.fetched = time.Now()

	s.robots.mu.Lock()
	s.robots.entries[key] = entry
	s.robots.mu.Unlock()
	return entry, nil
}

func (s *Scraper) fetchRobotsEntry(ctx context.Context, parsed *url.URL) (robotsCacheEntry, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		Get(robotsCacheKey(parsed) + "/robots.txt")
	if err != nil {
		return robotsCacheEntry{}, err
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return robotsCacheEntry{}, nil
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode(), resp.Body())
	if err != nil {
		return robotsCacheEntry{}, fmt.Errorf("parse robots.txt: %w", err)
	}
	return robotsCacheEntry{data: data}, nil
}

func robotsCacheKey(parsed *url.URL) string {
	scheme := parsed.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, parsed.Host)
}
