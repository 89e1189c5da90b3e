package support

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"proxyfinder/internal/config"
	"proxyfinder/internal/domain"
)

const maxResponseBodyLength = 16 << 20

var ErrBlockedWebsite = errors.New("target website is blocked")

// RequestOptions are the per-request knobs of a proxied call. A nil Timeout
// lets the caller apply its own default; a zero Timeout disables it.
type RequestOptions struct {
	Method   string
	Scheme   string
	Protocol string
	Params   url.Values
	Data     url.Values
	Body     []byte
	Headers  http.Header
	Timeout  *time.Duration
}

func Timeout(d time.Duration) *time.Duration {
	return &d
}

// Merge returns opts with every unset field taken from common. Headers and
// query parameters are merged key by key, opts winning on conflicts.
func (opts RequestOptions) Merge(common RequestOptions) RequestOptions {
	merged := opts
	if merged.Method == "" {
		merged.Method = common.Method
	}
	if merged.Scheme == "" {
		merged.Scheme = common.Scheme
	}
	if merged.Protocol == "" {
		merged.Protocol = common.Protocol
	}
	if merged.Body == nil {
		merged.Body = common.Body
	}
	if merged.Timeout == nil {
		merged.Timeout = common.Timeout
	}
	merged.Params = mergeValues(opts.Params, common.Params)
	merged.Data = mergeValues(opts.Data, common.Data)
	merged.Headers = mergeHeaders(opts.Headers, common.Headers)
	return merged
}

func mergeValues(own, common url.Values) url.Values {
	if len(common) == 0 {
		return own
	}
	merged := make(url.Values, len(own)+len(common))
	for key, values := range common {
		merged[key] = append([]string(nil), values...)
	}
	for key, values := range own {
		merged[key] = append([]string(nil), values...)
	}
	return merged
}

func mergeHeaders(own, common http.Header) http.Header {
	if len(common) == 0 {
		return own
	}
	merged := common.Clone()
	for key, values := range own {
		merged[key] = append([]string(nil), values...)
	}
	return merged
}

// Response is a fully read HTTP response together with the proxy that served it.
type Response struct {
	URL        string
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	Proxy      domain.Proxy
}

func (r *Response) Text() string {
	return string(r.Body)
}

// HTTPRequester issues one request through one proxy.
type HTTPRequester struct {
	DialTimeout time.Duration
}

func (h HTTPRequester) Do(ctx context.Context, proxyToUse domain.Proxy, target string, opts RequestOptions) (*Response, error) {
	return ProxyRequest(ctx, proxyToUse, target, opts, h.DialTimeout)
}

// ProxyRequest sends target through proxyToUse and reads the whole body.
func ProxyRequest(ctx context.Context, proxyToUse domain.Proxy, target string, opts RequestOptions, dialTimeout time.Duration) (*Response, error) {
	if config.IsWebsiteBlocked(target) {
		return nil, fmt.Errorf("%w: %s", ErrBlockedWebsite, target)
	}

	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}
	scheme := opts.Scheme
	if scheme == "" {
		scheme = "https"
	}

	var timeout time.Duration
	if opts.Timeout != nil {
		timeout = *opts.Timeout
	}
	if dialTimeout <= 0 || (timeout > 0 && timeout < dialTimeout) {
		dialTimeout = timeout
	}

	transport, err := CreateTransport(proxyToUse, opts.Protocol, scheme, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}

	req, err := newRequest(ctx, method, target, opts)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Connection", "close")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyLength))
	if err != nil {
		return nil, err
	}

	return &Response{
		URL:        req.URL.String(),
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       body,
		Proxy:      proxyToUse,
	}, nil
}

func newRequest(ctx context.Context, method, target string, opts RequestOptions) (*http.Request, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid target url %q: %w", target, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid target url %q: scheme and host required", target)
	}
	if len(opts.Params) > 0 {
		query := parsed.Query()
		for key, values := range opts.Params {
			for _, value := range values {
				query.Add(key, value)
			}
		}
		parsed.RawQuery = query.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case opts.Body != nil:
		body = bytes.NewReader(opts.Body)
	case len(opts.Data) > 0:
		body = strings.NewReader(opts.Data.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, method, parsed.String(), body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	for key, values := range opts.Headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	return req, nil
}
