package config

import (
	"net/url"
	"strings"
	"sync/atomic"
)

// blockedHosts is the normalized set of hosts no request may target.
var blockedHosts atomic.Pointer[map[string]struct{}]

func init() {
	updateWebsiteBlocklist(nil)
}

func updateWebsiteBlocklist(entries []string) {
	set := make(map[string]struct{}, len(entries))
	for _, host := range NormalizeHosts(entries) {
		set[host] = struct{}{}
	}
	blockedHosts.Store(&set)
}

// NormalizeHosts reduces URLs or bare host names to lowercase host names,
// dropping blanks and duplicates.
func NormalizeHosts(entries []string) []string {
	seen := make(map[string]struct{}, len(entries))
	hosts := make([]string, 0, len(entries))
	for _, raw := range entries {
		host := hostOf(raw)
		if host == "" {
			continue
		}
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		hosts = append(hosts, host)
	}
	return hosts
}

// IsWebsiteBlocked reports whether target or one of its parent domains is
// listed in blocked_websites.
func IsWebsiteBlocked(target string) bool {
	set := *blockedHosts.Load()
	if len(set) == 0 {
		return false
	}

	host := hostOf(target)
	for host != "" {
		if _, ok := set[host]; ok {
			return true
		}
		_, parent, found := strings.Cut(host, ".")
		if !found {
			break
		}
		host = parent
	}
	return false
}

func hostOf(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return ""
	}
	return strings.Trim(strings.ToLower(parsed.Hostname()), ".")
}
