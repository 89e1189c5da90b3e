// Package blacklist keeps the IPv4 addresses and ranges that must never be
// probed or used as proxies.
package blacklist

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"

	"proxyfinder/internal/config"
	"proxyfinder/internal/domain"
)

const (
	maxResponseBytes = 10 << 20
	fetchTimeout     = 30 * time.Second
)

var (
	cache       atomic.Pointer[snapshot]
	refreshOnce singleflight.Group
	httpClient  = resty.New().SetTimeout(fetchTimeout)
	ipRegex     = regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}(?:/\d{1,2})?\b`)
)

// Range is an IPv4 network expanded to its first and last address.
type Range struct {
	CIDR  string
	Start uint32
	End   uint32
}

type snapshot struct {
	ips    map[string]struct{}
	ranges []Range
}

type RefreshOutcome struct {
	Sources     int
	FailedFetch int
	IPs         int
	Ranges      int
}

func init() {
	cache.Store(&snapshot{ips: map[string]struct{}{}})
}

// Active reports whether anything is blacklisted.
func Active() bool {
	current := cache.Load()
	return len(current.ips) > 0 || len(current.ranges) > 0
}

// Set replaces the blacklist with the given addresses and CIDR ranges.
// Entries that are neither are ignored.
func Set(entries []string) {
	cache.Store(build(entries))
}

// Contains checks ip against the blacklisted addresses and ranges. Hostnames
// and IPv6 addresses are never blacklisted.
func Contains(ip string) bool {
	normalized := normalizeIPv4(ip)
	if normalized == "" {
		return false
	}
	current := cache.Load()
	if _, found := current.ips[normalized]; found {
		return true
	}
	return inRange(normalized, current.ranges)
}

// FilterProxies separates allowed proxies from those using blacklisted IPs.
func FilterProxies(proxies []domain.Proxy) (allowed []domain.Proxy, blocked []domain.Proxy) {
	if len(proxies) == 0 {
		return nil, nil
	}

	allowed = make([]domain.Proxy, 0, len(proxies))
	for _, proxy := range proxies {
		if Contains(proxy.Host) {
			blocked = append(blocked, proxy)
			continue
		}
		allowed = append(allowed, proxy)
	}
	return allowed, blocked
}

// Refresh rebuilds the blacklist from the configured entries and the
// contents of every configured source. A source that cannot be fetched is
// skipped with a warning.
func Refresh(ctx context.Context, reason string) (*RefreshOutcome, error) {
	result, err, _ := refreshOnce.Do("refresh", func() (interface{}, error) {
		return doRefresh(ctx, reason)
	})
	if err != nil {
		return nil, err
	}
	return result.(*RefreshOutcome), nil
}

func doRefresh(ctx context.Context, reason string) (*RefreshOutcome, error) {
	cfg := config.GetConfig()
	entries := slices.Clone(cfg.Blacklist.Entries)
	outcome := &RefreshOutcome{Sources: len(cfg.Blacklist.Sources)}

	for _, src := range cfg.Blacklist.Sources {
		fetched, err := fetchBlacklist(ctx, src)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			log.Warn("Blacklist fetch failed", "source", src, "error", err)
			outcome.FailedFetch++
			continue
		}
		entries = append(entries, fetched...)
	}

	next := build(entries)
	cache.Store(next)
	outcome.IPs = len(next.ips)
	outcome.Ranges = len(next.ranges)

	log.Info("Blacklist refresh completed",
		"reason", reason,
		"sources", outcome.Sources,
		"failed", outcome.FailedFetch,
		"ips", outcome.IPs,
		"ranges", outcome.Ranges,
	)
	return outcome, nil
}

func build(entries []string) *snapshot {
	next := &snapshot{ips: make(map[string]struct{}, len(entries))}
	for _, entry := range entries {
		r, ip := parseCIDROrIP(strings.TrimSpace(entry))
		if r != nil {
			next.ranges = append(next.ranges, *r)
		}
		if ip != "" {
			next.ips[ip] = struct{}{}
		}
	}
	next.ranges = mergeRanges(next.ranges)
	return next
}

// mergeRanges sorts ranges, widest first on equal starts, and folds nested
// ones so inRange can binary search them.
func mergeRanges(ranges []Range) []Range {
	if len(ranges) < 2 {
		return ranges
	}
	slices.SortFunc(ranges, func(a, b Range) int {
		if a.Start != b.Start {
			if a.Start < b.Start {
				return -1
			}
			return 1
		}
		if a.End > b.End {
			return -1
		}
		if a.End < b.End {
			return 1
		}
		return 0
	})

	merged := ranges[:1]
	for _, r := range ranges[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

func fetchBlacklist(ctx context.Context, source string) ([]string, error) {
	if config.IsWebsiteBlocked(source) {
		return nil, fmt.Errorf("blacklist source blocked: %s", source)
	}

	resp, err := httpClient.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(source)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode())
	}

	var content bytes.Buffer
	if _, err := content.ReadFrom(io.LimitReader(body, maxResponseBytes)); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return parseEntries(content.Bytes()), nil
}

// parseEntries extracts every IPv4 address or CIDR found in payload.
func parseEntries(payload []byte) []string {
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Buffer(make([]byte, 1024), 1024*1024)

	var entries []string
	for scanner.Scan() {
		line := scanner.Text()
		if comment := strings.IndexAny(line, "#;"); comment >= 0 {
			line = line[:comment]
		}
		entries = append(entries, ipRegex.FindAllString(line, -1)...)
	}
	if err := scanner.Err(); err != nil {
		log.Warn("Blacklist scanner warning", "error", err)
	}
	return entries
}

func normalizeIPv4(raw string) string {
	parsed := net.ParseIP(raw)
	if parsed == nil {
		return ""
	}
	v4 := parsed.To4()
	if v4 == nil {
		return ""
	}
	return v4.String()
}

func parseCIDROrIP(raw string) (*Range, string) {
	if !strings.Contains(raw, "/") {
		return nil, normalizeIPv4(raw)
	}

	_, ipnet, err := net.ParseCIDR(raw)
	if err != nil || ipnet == nil {
		return nil, ""
	}
	base := ipnet.IP.To4()
	if base == nil {
		return nil, ""
	}
	ones, bits := ipnet.Mask.Size()
	if bits != 32 {
		return nil, ""
	}

	start := ipToUint32(base.Mask(ipnet.Mask))
	hostCount := uint64(1) << uint32(bits-ones)
	return &Range{
		CIDR:  ipnet.String(),
		Start: start,
		End:   uint32(uint64(start) + hostCount - 1),
	}, ""
}

func ipToUint32(ip net.IP) uint32 {
	ip = ip.To4()
	if ip == nil {
		return 0
	}
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

func inRange(ip string, ranges []Range) bool {
	if len(ranges) == 0 {
		return false
	}

	u := ipToUint32(net.ParseIP(ip))

	lo, hi := 0, len(ranges)
	for lo < hi {
		mid := (lo + hi) / 2
		if u < ranges[mid].Start {
			hi = mid
			continue
		}
		if u > ranges[mid].End {
			lo = mid + 1
			continue
		}
		return true
	}
	return false
}
