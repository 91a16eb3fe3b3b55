// Package server provides the relay's HTTP surface, built on Echo v4:
// a health endpoint and the /v1/session duplex upgrade.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/fablehq/fable-relay/internal/config"
	"github.com/fablehq/fable-relay/internal/session"
)

// Server wraps the Echo instance and the session dependencies.
type Server struct {
	echo   *echo.Echo
	cfg    *config.Config
	deps   session.Deps
	logger zerolog.Logger

	// base is the lifecycle context sessions inherit. Request contexts
	// stop mattering once a connection is hijacked for WebSocket use, so
	// shutdown reaches sessions through this instead.
	base     context.Context
	sessions sync.WaitGroup
}

// New creates a configured Echo server with all routes registered.
func New(cfg *config.Config, deps session.Deps, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true // We log the listen address ourselves.

	e.Use(middleware.Recover())

	s := &Server{
		echo:   e,
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		base:   context.Background(),
	}

	s.registerRoutes()
	return s
}

// Start begins listening for HTTP requests. It blocks until the context
// is cancelled, then shuts down gracefully: in-flight requests complete,
// and live sessions get a bounded window to finalize their bookkeeping.
func (s *Server) Start(ctx context.Context) error {
	s.base = ctx

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("listening")
		if err := s.echo.Start(s.cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info().Msg("shutting down HTTP server")
		err := s.echo.Shutdown(context.Background())

		// Shutdown does not cover hijacked connections. Sessions see the
		// cancelled base context and tear down on their own; wait so
		// chat finalizers can land their usage rows before the process
		// exits.
		drained := make(chan struct{})
		go func() {
			s.sessions.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(10 * time.Second):
			s.logger.Warn().Msg("sessions still draining at exit")
		}
		return err
	}
}
