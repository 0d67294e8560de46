package httpserver

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/staffpulse/internal/app"
	"github.com/pscheid92/staffpulse/internal/domain"
	apperrors "github.com/pscheid92/staffpulse/internal/platform/errors"
)

const maxEventBodySize = 1 << 20

func (s *Server) registerAPIRoutes() {
	api := s.echo.Group("/api")
	api.Use(newRateLimiter(s.config.APIRatePerSecond, s.config.APIBurst))
	if s.config.IngestAPIKey != "" {
		api.Use(newAPIKeyAuth(s.config.IngestAPIKey))
	}

	api.GET("/realtime/stats", s.handleStats)
	api.GET("/realtime/rooms", s.handleListRooms)
	api.POST("/realtime/rooms/sweep", s.handleSweepRooms)

	api.POST("/events", s.handlePublishEvent)
	api.POST("/notices", s.handlePublishNotice)
	api.POST("/connections/:id/messages", s.handleSendToConnection)
}

type statsResponse struct {
	domain.Stats
	PollingSessions int `json:"polling_sessions"`
}

// snapshot collapses concurrent dashboard reads of the same kind into one call to the core.
// The shared call is detached from the first caller's cancellation; the core bounds it with
// its own command timeout.
func snapshot[T any](s *Server, c echo.Context, key string, fetch func(ctx context.Context) (T, error)) (T, error) {
	ctx := context.WithoutCancel(c.Request().Context())
	v, err, _ := s.snapshots.Do(key, func() (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := snapshot(s, c, "stats", s.realtime.Stats)
	if err != nil {
		return err
	}
	resp := statsResponse{Stats: stats}
	if s.polling != nil {
		resp.PollingSessions = s.polling.Sessions()
	}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write stats response: %w", err)
	}
	return nil
}

func (s *Server) handleListRooms(c echo.Context) error {
	rooms, err := snapshot(s, c, "rooms", s.realtime.ListRooms)
	if err != nil {
		return err
	}
	if err := c.JSON(http.StatusOK, map[string]any{"rooms": rooms, "count": len(rooms)}); err != nil {
		return fmt.Errorf("failed to write rooms response: %w", err)
	}
	return nil
}

func (s *Server) handleSweepRooms(c echo.Context) error {
	removed, err := s.realtime.SweepEmpty(c.Request().Context())
	if err != nil {
		return err
	}
	if err := c.JSON(http.StatusOK, map[string]int{"removed": removed}); err != nil {
		return fmt.Errorf("failed to write sweep response: %w", err)
	}
	return nil
}

// handlePublishEvent accepts the same tagged payload producers send over Redis or Kafka.
func (s *Server) handlePublishEvent(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxEventBodySize))
	if err != nil {
		return apperrors.ValidationError("failed to read request body")
	}

	delivery, err := s.ingestor.Handle(c.Request().Context(), app.SourceHTTP, body)
	if err != nil {
		return err
	}
	return writeDelivery(c, delivery)
}

func (s *Server) handlePublishNotice(c echo.Context) error {
	var notice domain.SystemNotice
	if err := c.Bind(&notice); err != nil {
		return apperrors.ValidationError("invalid notice body")
	}
	if notice.Kind != domain.NoticeMaintenance && notice.Kind != domain.NoticeAnnouncement {
		return apperrors.ValidationError("kind must be maintenance or announcement").WithField("kind", notice.Kind)
	}
	if notice.Message == "" && notice.Reason == "" {
		return apperrors.ValidationError("message or reason is required")
	}
	if err := notice.Validate(); err != nil {
		return apperrors.ValidationError(err.Error())
	}

	delivery, err := s.realtime.Broadcast(c.Request().Context(), notice)
	if err != nil {
		return err
	}
	return writeDelivery(c, delivery)
}

func writeDelivery(c echo.Context, delivery domain.Delivery) error {
	if err := c.JSON(http.StatusAccepted, delivery); err != nil {
		return fmt.Errorf("failed to write delivery response: %w", err)
	}
	return nil
}

type directMessageRequest struct {
	Event       domain.EventType `json:"event"`
	Payload     any              `json:"payload"`
	Priority    domain.Priority  `json:"priority"`
	RequiresAck bool             `json:"requires_ack"`
}

func (s *Server) handleSendToConnection(c echo.Context) error {
	id := c.Param("id")

	var req directMessageRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid message body")
	}
	if req.Event == "" {
		return apperrors.ValidationError("event is required")
	}
	if req.Priority == "" {
		req.Priority = domain.PriorityMedium
	}

	env := domain.Envelope{
		ID:          uuid.NewString(),
		Event:       req.Event,
		Payload:     req.Payload,
		Timestamp:   s.clock.Now().UTC(),
		Priority:    req.Priority,
		RequiresAck: req.RequiresAck,
	}

	sent, err := s.realtime.SendToConnection(c.Request().Context(), id, env)
	if err != nil {
		return err
	}
	if !sent {
		return apperrors.NotFoundError("connection not found", domain.ErrConnectionNotFound).WithField("socket_id", id)
	}

	if err := c.JSON(http.StatusAccepted, map[string]string{"message_id": env.ID}); err != nil {
		return fmt.Errorf("failed to write message response: %w", err)
	}
	return nil
}
