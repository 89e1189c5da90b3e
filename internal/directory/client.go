// Package directory talks to a proxy-finder directory instance over its REST API.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"proxyfinder/internal/domain"
)

const DefaultTimeout = 5 * time.Second

var (
	ErrDirectory = errors.New("directory error")
	// ErrConnectTimeout marks a request that timed out before a connection
	// to the directory was established.
	ErrConnectTimeout = errors.New("directory connect timeout")
)

type Client struct {
	root    string
	timeout time.Duration
	http    *resty.Client
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func New(root string, opts ...Option) *Client {
	c := &Client{
		root:    strings.TrimRight(root, "/"),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	// The dial gets half of the request budget so it fails before the
	// client timeout does.
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: c.timeout / 2}).DialContext,
		TLSHandshakeTimeout:   c.timeout,
		ResponseHeaderTimeout: c.timeout,
		MaxIdleConnsPerHost:   4,
	}

	c.http = resty.New().
		SetBaseURL(c.root).
		SetTimeout(c.timeout).
		SetTransport(transport).
		SetHeader("Accept", "application/json")

	return c
}

func (c *Client) Root() string {
	return c.root
}

// List returns the proxies known to the directory.
func (c *Client) List(ctx context.Context, options ListOptions) (*ListResponse, error) {
	var out ListResponse
	if err := c.getJSON(ctx, "list", options.Values(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Geo returns geo information for host.
func (c *Client) Geo(ctx context.Context, host string) (*GeoResponse, error) {
	var out GeoResponse
	if err := c.getJSON(ctx, "geo/"+url.PathEscape(host), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Check asks the directory to test host:port as an HTTPS proxy.
func (c *Client) Check(ctx context.Context, host string, port uint16) (*CheckResponse, error) {
	var out CheckResponse
	path := "check/" + url.PathEscape(host) + ":" + strconv.Itoa(int(port))
	if err := c.getJSON(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Version(ctx context.Context) (string, error) {
	return c.getText(ctx, "version")
}

func (c *Client) Licenses(ctx context.Context) (string, error) {
	return c.getText(ctx, "licenses")
}

// CheckProxy reports the directory's verdict on one proxy.
func (c *Client) CheckProxy(ctx context.Context, proxy domain.Proxy) (bool, error) {
	resp, err := c.Check(ctx, proxy.Host, proxy.Port)
	if err != nil {
		return false, err
	}
	return resp.Working(), nil
}

// SetGeo fills the geo fields of proxy from the directory.
func (c *Client) SetGeo(ctx context.Context, proxy *domain.Proxy) error {
	resp, err := c.Geo(ctx, proxy.Host)
	if err != nil {
		return err
	}
	proxy.SetGeo(resp.Geo.Country, resp.Geo.Region, resp.Geo.City)
	return nil
}

// CheckMany runs CheckProxy for every proxy with at most limit requests in
// flight. The verdicts are index-aligned with proxies; the first error
// cancels the rest.
func (c *Client) CheckMany(ctx context.Context, proxies []domain.Proxy, limit int) ([]bool, error) {
	verdicts := make([]bool, len(proxies))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(normalizeLimit(limit))
	for i, proxy := range proxies {
		g.Go(func() error {
			working, err := c.CheckProxy(gctx, proxy)
			if err != nil {
				return fmt.Errorf("check %s: %w", proxy, err)
			}
			verdicts[i] = working
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return verdicts, nil
}

// AnnotateGeo fills geo information in place for every proxy that has none.
func (c *Client) AnnotateGeo(ctx context.Context, proxies []domain.Proxy, limit int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(normalizeLimit(limit))
	for i := range proxies {
		if proxies[i].HasGeo() {
			continue
		}
		g.Go(func() error {
			if err := c.SetGeo(gctx, &proxies[i]); err != nil {
				return fmt.Errorf("geo %s: %w", proxies[i].Host, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 16
	}
	return limit
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (*resty.Response, error) {
	var connected atomic.Bool
	trace := &httptrace.ClientTrace{
		GotConn: func(httptrace.GotConnInfo) { connected.Store(true) },
	}

	req := c.http.R().SetContext(httptrace.WithClientTrace(ctx, trace))
	if len(params) > 0 {
		req.SetQueryParamsFromValues(params)
	}

	resp, err := req.Get(path)
	if err != nil {
		// A timeout with no connection in hand happened while connecting,
		// unless the caller's own context ran out.
		if !connected.Load() && ctx.Err() == nil && isTimeout(err) {
			return nil, fmt.Errorf("%w: %s: %w", ErrConnectTimeout, path, err)
		}
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %s returned %s", ErrDirectory, path, resp.Status())
	}

	log.Debug("Directory request", "path", path, "status", resp.StatusCode(), "duration", resp.Time())
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	resp, err := c.get(ctx, path, params)
	if err != nil {
		return err
	}
	if !isJSON(resp) {
		return fmt.Errorf("%w: %s returned %q instead of JSON", ErrDirectory, path, resp.Header().Get("Content-Type"))
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrDirectory, path, err)
	}
	return nil
}

// getText returns the body as is, or compacted when it is JSON.
func (c *Client) getText(ctx context.Context, path string) (string, error) {
	resp, err := c.get(ctx, path, nil)
	if err != nil {
		return "", err
	}
	if isJSON(resp) {
		var value any
		if err := json.Unmarshal(resp.Body(), &value); err != nil {
			return "", fmt.Errorf("%w: decode %s: %w", ErrDirectory, path, err)
		}
		if text, ok := value.(string); ok {
			return text, nil
		}
		compact, err := json.Marshal(value)
		if err != nil {
			return "", err
		}
		return string(compact), nil
	}
	return resp.String(), nil
}

func isJSON(resp *resty.Response) bool {
	return strings.HasPrefix(resp.Header().Get("Content-Type"), "application/json")
}

// IsConnectTimeout reports whether err is a timeout while connecting to the
// directory, as opposed to a timeout reading from it.
func IsConnectTimeout(err error) bool {
	if errors.Is(err, ErrConnectTimeout) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" && opErr.Timeout() {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout() && strings.Contains(err.Error(), "dial")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
