// Package server runs the admin HTTP listener.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"contentfilter/pkg/version"
)

const readHeaderTimeout = 10 * time.Second

// Server wraps an http.Server with a synchronous bind and background serve.
type Server struct {
	server *http.Server
	log    *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	done     chan error
}

// New creates a Server for handler on addr.
func New(addr string, handler http.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
			ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
		},
		log:  log,
		done: make(chan error, 1),
	}
}

// Start binds the listen address and serves in the background. Request
// contexts derive from ctx.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("starting admin server", "version", version.ContentFilterVersion, "address", ln.Addr().String())
	go func() {
		err := s.server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	return nil
}

// Wait blocks until the server stops and returns the serve error, if any.
func (s *Server) Wait() error {
	err := <-s.done
	s.done <- err
	return err
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down admin server")
	return s.server.Shutdown(ctx)
}
