// Package scraper collects proxies from public proxy-list pages.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"proxyfinder/internal/config"
	"proxyfinder/internal/domain"
	"proxyfinder/internal/support"
)

const (
	DefaultTimeout     = 15 * time.Second
	DefaultUserAgent   = "proxyfinder-scraper/1.0"
	defaultConcurrency = 4
)

var (
	ErrBlocked    = errors.New("scraper: website is blocked")
	ErrDisallowed = errors.New("scraper: robots.txt disallows the page")
)

type Scraper struct {
	client        *resty.Client
	userAgent     string
	respectRobots bool
	concurrency   int
	robots        robotsCache
}

type Option func(*Scraper)

func WithTimeout(d time.Duration) Option {
	return func(s *Scraper) {
		if d > 0 {
			s.client.SetTimeout(d)
		}
	}
}

func WithUserAgent(userAgent string) Option {
	return func(s *Scraper) {
		if userAgent != "" {
			s.userAgent = userAgent
		}
	}
}

// WithRobots toggles the robots.txt check done before every page.
func WithRobots(respect bool) Option {
	return func(s *Scraper) {
		s.respectRobots = respect
	}
}

func WithConcurrency(n int) Option {
	return func(s *Scraper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func New(opts ...Option) *Scraper {
	s := &Scraper{
		client:        resty.New().SetTimeout(DefaultTimeout),
		userAgent:     DefaultUserAgent,
		respectRobots: true,
		concurrency:   defaultConcurrency,
		robots:        robotsCache{entries: make(map[string]robotsCacheEntry)},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.client.SetHeader("User-Agent", s.userAgent)
	return s
}

// Scrape downloads target and returns the proxies found on it.
func (s *Scraper) Scrape(ctx context.Context, target string) ([]domain.Proxy, error) {
	if config.IsWebsiteBlocked(target) {
		return nil, fmt.Errorf("%w: %s", ErrBlocked, target)
	}
	parsed, err := url.Parse(target)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("scraper: invalid url %q", target)
	}

	if s.respectRobots {
		result, err := s.checkRobotsAllowance(ctx, parsed)
		if err != nil {
			log.Warn("robots.txt check failed", "url", target, "error", err)
		}
		if result.RobotsFound && !result.Allowed {
			return nil, fmt.Errorf("%w: %s", ErrDisallowed, target)
		}
	}

	resp, err := s.client.R().SetContext(ctx).Get(target)
	if err != nil {
		return nil, fmt.Errorf("scraper: fetch %s: %w", target, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("scraper: fetch %s: status %d", target, resp.StatusCode())
	}

	proxies := support.FindProxies(resp.String())
	log.Debug("Scraped page", "url", target, "proxies", len(proxies), "duration", resp.Time())
	return proxies, nil
}

// ScrapeAll scrapes every target concurrently and merges the results in
// target order without duplicates. Pages that fail are logged and skipped;
// an error is returned only when every page failed.
func (s *Scraper) ScrapeAll(ctx context.Context, targets []string) ([]domain.Proxy, error) {
	found := make([][]domain.Proxy, len(targets))
	errs := make([]error, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, target := range targets {
		g.Go(func() error {
			found[i], errs[i] = s.Scrape(gctx, target)
			if errs[i] != nil {
				log.Warn("Scraping failed", "url", target, "error", errs[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		merged []domain.Proxy
		failed int
	)
	seen := make(map[string]struct{})
	for i, proxies := range found {
		if errs[i] != nil {
			failed++
			continue
		}
		for _, proxy := range proxies {
			if _, dup := seen[proxy.Key()]; dup {
				continue
			}
			seen[proxy.Key()] = struct{}{}
			merged = append(merged, proxy)
		}
	}
	if len(targets) > 0 && failed == len(targets) {
		return nil, errors.Join(errs...)
	}
	return merged, nil
}

// Source scrapes URLs whenever a pool is loaded from it.
type Source struct {
	Scraper *Scraper
	URLs    []string
}

func (src Source) LoadProxies(ctx context.Context) ([]domain.Proxy, error) {
	return src.Scraper.ScrapeAll(ctx, src.URLs)
}
