package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/staffpulse/internal/platform/errors"
)

// registerRealtimeRoutes mounts the WebSocket endpoint and the long-polling fallback.
func (s *Server) registerRealtimeRoutes() {
	if s.websocketHandler != nil {
		s.echo.GET("/ws", echo.WrapHandler(s.websocketHandler))
	}
	if s.polling == nil {
		return
	}

	poll := s.echo.Group("/ws/poll")
	poll.POST("", s.handlePollOpen)
	poll.GET("/:sid", s.handlePoll)
	poll.POST("/:sid", s.handlePollSend)
	poll.DELETE("/:sid", s.handlePollClose)
}

type pollOpenResponse struct {
	SocketID string          `json:"socket_id"`
	Frame    json.RawMessage `json:"frame"`
}

type pollResponse struct {
	Frames []json.RawMessage `json:"frames"`
}

func (s *Server) handlePollOpen(c echo.Context) error {
	id, welcome, err := s.polling.Open(c.Request().Context(), c.RealIP(), c.Request().UserAgent())
	if err != nil {
		return err
	}
	if err := c.JSON(http.StatusCreated, pollOpenResponse{SocketID: id, Frame: welcome}); err != nil {
		return fmt.Errorf("failed to write poll open response: %w", err)
	}
	return nil
}

func (s *Server) handlePoll(c echo.Context) error {
	frames, err := s.polling.Poll(c.Request().Context(), c.Param("sid"))
	if err != nil {
		return err
	}
	if frames == nil {
		frames = []json.RawMessage{}
	}
	if err := c.JSON(http.StatusOK, pollResponse{Frames: frames}); err != nil {
		return fmt.Errorf("failed to write poll response: %w", err)
	}
	return nil
}

func (s *Server) handlePollSend(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, s.config.MaxMessageSize))
	if err != nil {
		return apperrors.ValidationError("failed to read request body")
	}

	reply, err := s.polling.Post(c.Request().Context(), c.Param("sid"), body)
	if err != nil {
		return err
	}
	if reply == nil {
		return c.NoContent(http.StatusNoContent)
	}
	if err := c.JSONBlob(http.StatusOK, reply); err != nil {
		return fmt.Errorf("failed to write poll reply: %w", err)
	}
	return nil
}

func (s *Server) handlePollClose(c echo.Context) error {
	if err := s.polling.Close(c.Request().Context(), c.Param("sid")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
