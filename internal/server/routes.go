package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/v1/session", s.handleSession)
}

// handleHealth reports liveness for load balancers and monitoring.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "fable-relay",
	})
}
