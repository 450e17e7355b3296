package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/aestimo/internal/app"
)

// Read/write timeouts are sized for the quick endpoints. The processing and
// chat handlers run their model calls synchronously and lift the write
// deadline themselves (handlers.DisableWriteTimeout). The idle timeout
// keeps browser keep-alive connections around between polls.
const (
	readTimeout  = 15 * time.Second
	writeTimeout = 15 * time.Second
	idleTimeout  = 60 * time.Second
)

// Server owns the HTTP listener, routes, and middleware chain.
type Server struct {
	app  *app.App
	addr string
	http *http.Server
}

// New wires routes and middleware around the app container.
func New(application *app.App) *Server {
	s := &Server{
		app:  application,
		addr: fmt.Sprintf("%s:%d", application.Config.Server.Host, application.Config.Server.Port),
	}
	s.http = &http.Server{
		Addr:         s.addr,
		Handler:      s.withMiddleware(s.setupRoutes()),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	s.app.Logger.Info().
		Str("address", s.addr).
		Str("url", "http://"+s.addr).
		Msg("Evaluation workspace listening")

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Logger.Info().Msg("Shutting down HTTP server")

	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.app.Logger.Info().Msg("HTTP server stopped")
	return nil
}
