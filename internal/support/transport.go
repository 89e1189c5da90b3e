package support

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"

	"proxyfinder/internal/domain"
)

const (
	ProtocolHTTP   = "http"
	ProtocolSocks5 = "socks5"

	defaultDialTimeout = 10 * time.Second
)

// CreateTransport builds a single-use transport that sends requests for
// targetScheme through proxyToUse. Requests for any other scheme go direct.
// An empty targetScheme routes every request through the proxy. SOCKS5
// proxies carry every request regardless of targetScheme.
func CreateTransport(proxyToUse domain.Proxy, protocol, targetScheme string, dialTimeout time.Duration) (*http.Transport, error) {
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}

	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 0,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		DisableKeepAlives:     true,
		MaxIdleConns:          0,
		MaxIdleConnsPerHost:   0,
		IdleConnTimeout:       0,
		TLSHandshakeTimeout:   dialTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	switch protocol {
	case "", ProtocolHTTP:
		proxyURL := &url.URL{Scheme: "http", Host: proxyToUse.Key()}
		transport.Proxy = func(req *http.Request) (*url.URL, error) {
			if targetScheme != "" && req.URL.Scheme != targetScheme {
				return nil, nil
			}
			return proxyURL, nil
		}
		transport.OnProxyConnectResponse = func(_ context.Context, _ *url.URL, _ *http.Request, res *http.Response) error {
			if res.StatusCode != http.StatusOK {
				return fmt.Errorf("%w: %s answered %s", ErrProxyRejected, proxyToUse.Key(), res.Status)
			}
			return nil
		}

	case ProtocolSocks5:
		socksDialer, err := proxy.SOCKS5("tcp", proxyToUse.Key(), nil, dialer)
		if err != nil {
			return nil, err
		}
		contextDialer, ok := socksDialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer for %s does not support contexts", proxyToUse.Key())
		}
		transport.DialContext = contextDialer.DialContext

	default:
		return nil, fmt.Errorf("unsupported proxy protocol %q", protocol)
	}

	return transport, nil
}
