// Package rotatingproxy serves a pool as a local forward proxy. Every plain
// request and every CONNECT tunnel goes out through a random pool member.
package rotatingproxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"proxyfinder/internal/pool"
)

const (
	DefaultConnectAttempts = 10
	defaultDialTimeout     = 5 * time.Second
)

type Option func(*proxyHandler)

func WithCredentials(username, password string) Option {
	return func(h *proxyHandler) {
		h.auth = Credentials{Username: username, Password: password}
	}
}

func WithConnectAttempts(n int) Option {
	return func(h *proxyHandler) {
		if n > 0 {
			h.connectAttempts = n
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(h *proxyHandler) {
		if d > 0 {
			h.dialTimeout = d
		}
	}
}

type Server struct {
	handler    *proxyHandler
	listener   net.Listener
	httpServer *http.Server
	closeOnce  sync.Once
}

func New(p *pool.Pool, opts ...Option) *Server {
	handler := &proxyHandler{
		pool:            p,
		connectAttempts: DefaultConnectAttempts,
		dialTimeout:     defaultDialTimeout,
	}
	for _, opt := range opts {
		opt(handler)
	}
	return &Server{handler: handler}
}

// Start listens on address and serves in the background.
func (s *Server) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 15 * time.Second,
	}

	s.listener = listener
	s.httpServer = server

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Rotating proxy server stopped", "address", address, "error", err)
		}
	}()

	log.Info("Rotating proxy server started", "address", listener.Addr().String(), "pool", s.handler.pool.Len())
	return nil
}

func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(ctx); err != nil {
				log.Error("Rotating proxy server shutdown", "error", err)
			}
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}
