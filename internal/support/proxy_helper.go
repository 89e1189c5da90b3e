package support

import (
	"regexp"
	"strconv"
	"strings"

	"proxyfinder/internal/domain"
)

// ParseTextToProxies reads one host:port per line and skips anything that
// does not parse.
func ParseTextToProxies(text string) []domain.Proxy {
	text = strings.ReplaceAll(text, "\r", "")
	lines := strings.Split(text, "\n")
	proxies := make([]domain.Proxy, 0, len(lines))

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		proxy, err := domain.ParseProxy(line)
		if err != nil {
			continue
		}
		proxies = append(proxies, proxy)
	}

	return proxies
}

// proxyPattern matches "ip:port" as well as an ip and a port in adjacent
// table cells, the two layouts public proxy lists use.
var proxyPattern = regexp.MustCompile(`\b((?:[0-9]{1,3}\.){3}[0-9]{1,3})(?:\s*:\s*|\s*</td>\s*<td[^>]*>\s*)([0-9]{1,5})\b`)

// FindProxies extracts every IPv4 proxy from free-form text such as an HTML
// page, dropping duplicates and invalid ports.
func FindProxies(text string) []domain.Proxy {
	seen := make(map[string]struct{})
	var proxies []domain.Proxy
	for _, match := range proxyPattern.FindAllStringSubmatch(text, -1) {
		proxy, err := domain.ParseProxy(match[1] + ":" + match[2])
		if err != nil || proxy.Port == 0 {
			continue
		}
		if _, dup := seen[proxy.Key()]; dup {
			continue
		}
		seen[proxy.Key()] = struct{}{}
		proxies = append(proxies, proxy)
	}
	return proxies
}

// FormatProxies renders every proxy through outputFormat, replacing the
// keywords host, port, country, region, city and score.
func FormatProxies(proxies []domain.Proxy, outputFormat string) string {
	var result strings.Builder

	replacer := func(proxy domain.Proxy) *strings.Replacer {
		score := ""
		if proxy.Score != nil {
			score = strconv.FormatFloat(*proxy.Score, 'f', -1, 64)
		}
		return strings.NewReplacer(
			"host", proxy.Host,
			"port", strconv.Itoa(int(proxy.Port)),
			"country", proxy.Country,
			"region", proxy.Region,
			"city", proxy.City,
			"score", score,
		)
	}

	for _, proxy := range proxies {
		result.WriteString(replacer(proxy).Replace(outputFormat))
		result.WriteString("\n")
	}

	return result.String()
}
