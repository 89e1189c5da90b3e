package rotatingproxy

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"proxyfinder/internal/domain"
	"proxyfinder/internal/pool"
	"proxyfinder/internal/security"
	"proxyfinder/internal/support"
)

const (
	connectEstablishedResponse = "HTTP/1.1 200 Connection Established\r\nProxy-Agent: proxyfinder\r\n\r\n"
	upstreamHeader             = "X-Proxyfinder-Upstream"
	maxRequestBodyLength       = 16 << 20
)

var (
	dialUpstreamFunc           = dialUpstream
	performUpstreamConnectFunc = performUpstreamConnect
)

// Headers that only concern one hop and are never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Credentials are what clients must send. Password is a stored secret as
// understood by security.MatchSecret.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) required() bool {
	return c.Username != "" || c.Password != ""
}

type proxyHandler struct {
	pool            *pool.Pool
	auth            Credentials
	connectAttempts int
	dialTimeout     time.Duration
}

func (h *proxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authenticateClient(w, r) {
		return
	}

	switch strings.ToUpper(r.Method) {
	case http.MethodConnect:
		h.handleConnect(w, r)
	default:
		h.handleHTTP(w, r)
	}
}

func (h *proxyHandler) authenticateClient(w http.ResponseWriter, r *http.Request) bool {
	if !h.auth.required() {
		return true
	}

	scheme, encoded, found := strings.Cut(strings.TrimSpace(r.Header.Get("Proxy-Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "Basic") {
		writeProxyAuthRequired(w)
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		writeProxyAuthRequired(w)
		return false
	}

	username, password, found := strings.Cut(string(decoded), ":")
	if !found || username != h.auth.Username {
		writeProxyAuthRequired(w)
		return false
	}

	matched, err := security.MatchSecret(h.auth.Password, password)
	if err != nil {
		log.Error("Failed to check proxy client password", "error", err)
	}
	if !matched {
		writeProxyAuthRequired(w)
		return false
	}
	return true
}

func writeProxyAuthRequired(w http.ResponseWriter) {
	w.Header().Set("Proxy-Authenticate", `Basic realm="proxyfinder"`)
	w.WriteHeader(http.StatusProxyAuthRequired)
	_, _ = w.Write([]byte("Proxy authentication required"))
}

// handleHTTP forwards a plain proxy request through the pool, which retries
// on other members until one answers.
func (h *proxyHandler) handleHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyLength))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	_ = r.Body.Close()

	target := r.URL
	if !target.IsAbs() {
		target = &url.URL{
			Scheme:   "http",
			Host:     r.Host,
			Path:     r.URL.Path,
			RawQuery: r.URL.RawQuery,
		}
	}

	headers := r.Header.Clone()
	removeHopHeaders(headers)

	opts := pool.RequestOptions{
		Method:  r.Method,
		Scheme:  target.Scheme,
		Headers: headers,
	}
	if len(body) > 0 {
		opts.Body = body
	}

	resp, err := h.pool.Request(r.Context(), target.String(), opts)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, support.ErrBlockedWebsite) {
			status = http.StatusForbidden
		}
		log.Debug("Rotating proxy request failed", "target", target, "error", err)
		http.Error(w, err.Error(), status)
		return
	}

	copyHeaders(w.Header(), resp.Header)
	removeHopHeaders(w.Header())
	w.Header().Set(upstreamHeader, resp.Proxy.Key())
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		log.Warn("Rotating proxy failed to write response body", "target", target, "error", err)
	}
}

// handleConnect opens a tunnel through the first pool member that accepts
// the CONNECT, trying up to connectAttempts distinct members.
func (h *proxyHandler) handleConnect(w http.ResponseWriter, r *http.Request) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}

	clientConn, buf, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, "failed to hijack connection", http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := clientConn.Close(); err != nil {
			log.Debug("Rotating proxy client connection close", "error", err)
		}
	}()
	_ = clientConn.SetDeadline(time.Time{})

	candidates, err := h.pool.GetRandomMany(h.connectAttempts)
	if err != nil {
		writeHijackedResponse(buf, http.StatusBadGateway, "No upstream proxy available")
		return
	}

	for _, candidate := range candidates {
		if r.Context().Err() != nil {
			return
		}

		upConn, err := dialUpstreamFunc(r.Context(), candidate, h.dialTimeout)
		if err != nil {
			log.Debug("Rotating proxy upstream dial failed", "proxy", candidate, "error", err)
			continue
		}
		if err := performUpstreamConnectFunc(upConn, r.Host, h.dialTimeout); err != nil {
			log.Debug("Rotating proxy upstream CONNECT failed", "proxy", candidate, "target", r.Host, "error", err)
			_ = upConn.Close()
			continue
		}

		if _, err := clientConn.Write([]byte(connectEstablishedResponse)); err != nil {
			_ = upConn.Close()
			return
		}
		pipeConnections(clientConn, upConn)
		return
	}

	writeHijackedResponse(buf, http.StatusBadGateway, "Upstream CONNECT failed")
}

func writeHijackedResponse(buf *bufio.ReadWriter, status int, message string) {
	fmt.Fprintf(buf, "HTTP/1.1 %d %s\r\nContent-Type: text/plain\r\nContent-Length: %d\r\n\r\n%s",
		status,
		http.StatusText(status),
		len(message),
		message,
	)
	_ = buf.Flush()
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func removeHopHeaders(header http.Header) {
	for _, name := range hopHeaders {
		header.Del(name)
	}
}

func dialUpstream(ctx context.Context, proxy domain.Proxy, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	return dialer.DialContext(ctx, "tcp", proxy.Key())
}

func performUpstreamConnect(conn net.Conn, targetHost string, timeout time.Duration) error {
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
		defer conn.SetDeadline(time.Time{})
	}

	request := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\nProxy-Connection: Keep-Alive\r\n\r\n", targetHost, targetHost)
	if _, err := conn.Write([]byte(request)); err != nil {
		return err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: http.MethodConnect})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s", support.ErrProxyRejected, resp.Status)
	}
	return nil
}

func pipeConnections(left, right net.Conn) {
	errCh := make(chan error, 2)

	go func() {
		_, err := io.Copy(left, right)
		errCh <- err
	}()

	go func() {
		_, err := io.Copy(right, left)
		errCh <- err
	}()

	<-errCh
	left.Close()
	right.Close()
}
