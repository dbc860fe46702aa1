// Package server wraps the HTTP server with sane timeouts and graceful
// shutdown.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"oauth-bridge/internal/common/logging"
)

// Server is the HTTP server for the bridge
type Server struct {
	httpServer *http.Server
	logger     logging.Logger
}

// New creates a server listening on the given port
func New(port string, handler http.Handler, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%s", port),
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving. Blocks until the server stops; a graceful shutdown
// returns nil.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening",
		logging.Field{Key: "addr", Value: s.httpServer.Addr},
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
