package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/staffpulse/internal/platform/version"
)

const (
	startupCheckTimeout   = 2 * time.Second
	readinessCheckTimeout = 5 * time.Second
)

// broadcastCheckName names the built-in check that the actor loop still answers commands.
const broadcastCheckName = "broadcast"

// HealthCheck is a named readiness check for a collaborator such as Redis.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type healthResponse struct {
	Status      string            `json:"status"`
	Checks      map[string]string `json:"checks"`
	FailedCheck string            `json:"failed_check,omitempty"`
	Error       string            `json:"error,omitempty"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

// checkBroadcast round-trips a stats command through the broadcast loop. A stopped or wedged
// loop fails it with an unavailable error or the check timeout.
func (s *Server) checkBroadcast(ctx context.Context) error {
	if _, err := s.realtime.Stats(ctx); err != nil {
		return fmt.Errorf("broadcast loop not responding: %w", err)
	}
	return nil
}

// handleStartup only needs the core: collaborators may still be connecting.
func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupCheckTimeout)
	defer cancel()

	return s.writeHealth(c, s.runChecks(ctx, nil))
}

func (s *Server) handleLiveness(c echo.Context) error {
	uptime := s.clock.Since(s.startTime).Seconds()

	response := map[string]any{
		"status": "ok",
		"uptime": uptime,
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}

	return nil
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessCheckTimeout)
	defer cancel()

	return s.writeHealth(c, s.runChecks(ctx, s.healthChecks))
}

// runChecks runs the broadcast check followed by extra. Every check runs so the response
// shows the state of each collaborator; the first failure is reported as failed_check.
func (s *Server) runChecks(ctx context.Context, extra []HealthCheck) healthResponse {
	checks := append([]HealthCheck{{Name: broadcastCheckName, Check: s.checkBroadcast}}, extra...)

	resp := healthResponse{Status: "ready", Checks: make(map[string]string, len(checks))}
	for _, hc := range checks {
		err := hc.Check(ctx)
		if err == nil {
			resp.Checks[hc.Name] = "ok"
			continue
		}
		resp.Checks[hc.Name] = err.Error()
		if resp.FailedCheck == "" {
			resp.Status = "unhealthy"
			resp.FailedCheck = hc.Name
			resp.Error = err.Error()
		}
	}
	return resp
}

func (s *Server) writeHealth(c echo.Context, resp healthResponse) error {
	status := http.StatusOK
	if resp.FailedCheck != "" {
		status = http.StatusServiceUnavailable
	}
	if err := c.JSON(status, resp); err != nil {
		return fmt.Errorf("failed to send health response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
