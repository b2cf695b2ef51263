package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"
)

// Server serves the admin handler with an optional bound on concurrent connections.
type Server struct {
	http           *http.Server
	maxConnections int
	logger         zerolog.Logger
}

// NewServer returns a server for handler on address:port. maxConnections <= 0 means unlimited.
func NewServer(address string, port, maxConnections int, handler http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", address, port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
		maxConnections: maxConnections,
		logger:         logger,
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

// ListenAndServe listens on the configured address and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.http.Addr, err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Serve(listener net.Listener) error {
	if s.maxConnections > 0 {
		listener = netutil.LimitListener(listener, s.maxConnections)
	}
	s.logger.Info().
		Str("address", listener.Addr().String()).
		Int("max_connections", s.maxConnections).
		Msg("Starting cache admin HTTP server")

	if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
