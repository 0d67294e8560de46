package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/staffpulse/internal/adapter/metrics"
	"github.com/pscheid92/staffpulse/internal/app"
	"github.com/pscheid92/staffpulse/internal/domain"
	"github.com/pscheid92/staffpulse/internal/platform/config"
	"golang.org/x/sync/singleflight"
)

// realtimeService is the broadcast core as seen by the HTTP API.
type realtimeService interface {
	Stats(ctx context.Context) (domain.Stats, error)
	ListRooms(ctx context.Context) ([]domain.Room, error)
	SweepEmpty(ctx context.Context) (int, error)
	Broadcast(ctx context.Context, event domain.Event) (domain.Delivery, error)
	SendToConnection(ctx context.Context, id string, env domain.Envelope) (bool, error)
}

// pollingService serves the long-polling transport.
type pollingService interface {
	Open(ctx context.Context, remoteAddr, userAgent string) (string, json.RawMessage, error)
	Poll(ctx context.Context, id string) ([]json.RawMessage, error)
	Post(ctx context.Context, id string, raw []byte) (json.RawMessage, error)
	Close(ctx context.Context, id string) error
	Sessions() int
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	realtime realtimeService
	polling  pollingService
	ingestor *app.Ingestor

	websocketHandler http.Handler
	metricsHandler   http.Handler
	httpMetrics      *metrics.HTTPMetrics

	healthChecks []HealthCheck
	startTime    time.Time

	snapshots singleflight.Group
}

func NewServer(
	cfg *config.Config,
	clock clockwork.Clock,
	realtime realtimeService,
	polling pollingService,
	websocketHandler http.Handler,
	metricsHandler http.Handler,
	httpMetrics *metrics.HTTPMetrics,
	ingestMetrics *metrics.IngestMetrics,
	healthChecks []HealthCheck,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:             e,
		config:           cfg,
		clock:            clock,
		realtime:         realtime,
		polling:          polling,
		ingestor:         app.NewIngestor(realtime, ingestMetrics),
		websocketHandler: websocketHandler,
		metricsHandler:   metricsHandler,
		httpMetrics:      httpMetrics,
		healthChecks:     healthChecks,
		startTime:        clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
