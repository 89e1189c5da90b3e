package discovery

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"proxyfinder/internal/domain"
	"proxyfinder/internal/support"
)

// Verdict is how far a candidate got through validation.
type Verdict uint8

const (
	Closed Verdict = iota // TCP connect failed
	Open                  // port open, functional check failed
	Valid
)

func (v Verdict) String() string {
	switch v {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Valid:
		return "valid"
	default:
		return "unknown"
	}
}

type Prober interface {
	Probe(ctx context.Context, candidate domain.Proxy) Verdict
}

type ProberFunc func(ctx context.Context, candidate domain.Proxy) Verdict

func (f ProberFunc) Probe(ctx context.Context, candidate domain.Proxy) Verdict {
	return f(ctx, candidate)
}

// HTTPProber first opens a plain TCP connection to the candidate and then
// fetches TryURL through it as an HTTP proxy. Only a 200 answer is valid.
type HTTPProber struct {
	TryURL         string
	ConnectTimeout time.Duration
	CheckTimeout   time.Duration
}

func (p HTTPProber) Probe(ctx context.Context, candidate domain.Proxy) Verdict {
	if !p.checkOpenPort(ctx, candidate) {
		return Closed
	}
	if !p.tryProxy(ctx, candidate) {
		return Open
	}
	return Valid
}

func (p HTTPProber) checkOpenPort(ctx context.Context, candidate domain.Proxy) bool {
	dialer := net.Dialer{Timeout: p.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", candidate.Key())
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (p HTTPProber) tryProxy(ctx context.Context, candidate domain.Proxy) bool {
	transport, err := support.CreateTransport(candidate, support.ProtocolHTTP, "", p.CheckTimeout)
	if err != nil {
		log.Debug("Failed to create probe transport", "proxy", candidate, "error", err)
		return false
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   p.CheckTimeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.TryURL, nil)
	if err != nil {
		log.Debug("Invalid probe url", "url", p.TryURL, "error", err)
		return false
	}
	req.Header.Set("Connection", "close")

	resp, err := client.Do(req)
	if err != nil {
		if !support.IsTransient(err) {
			log.Debug("Probe failed", "proxy", candidate, "error", err)
		}
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return resp.StatusCode == http.StatusOK
}
