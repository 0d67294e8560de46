package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/staffpulse/internal/app"
	"github.com/pscheid92/staffpulse/internal/domain"
	"github.com/pscheid92/staffpulse/internal/platform/config"
)

// --- Mock implementations ---

type mockRealtime struct {
	statsFn      func(ctx context.Context) (domain.Stats, error)
	listRoomsFn  func(ctx context.Context) ([]domain.Room, error)
	sweepFn      func(ctx context.Context) (int, error)
	broadcastFn  func(ctx context.Context, event domain.Event) (domain.Delivery, error)
	sendToConnFn func(ctx context.Context, id string, env domain.Envelope) (bool, error)
}

func (m *mockRealtime) Stats(ctx context.Context) (domain.Stats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx)
	}
	return domain.Stats{Organizations: map[string]int{}, ByTransport: map[string]int{}}, nil
}

func (m *mockRealtime) ListRooms(ctx context.Context) ([]domain.Room, error) {
	if m.listRoomsFn != nil {
		return m.listRoomsFn(ctx)
	}
	return nil, nil
}

func (m *mockRealtime) SweepEmpty(ctx context.Context) (int, error) {
	if m.sweepFn != nil {
		return m.sweepFn(ctx)
	}
	return 0, nil
}

func (m *mockRealtime) Broadcast(ctx context.Context, event domain.Event) (domain.Delivery, error) {
	if m.broadcastFn != nil {
		return m.broadcastFn(ctx, event)
	}
	return domain.Delivery{}, errors.New("not implemented")
}

func (m *mockRealtime) SendToConnection(ctx context.Context, id string, env domain.Envelope) (bool, error) {
	if m.sendToConnFn != nil {
		return m.sendToConnFn(ctx, id, env)
	}
	return false, nil
}

type mockPolling struct {
	openFn   func(ctx context.Context, remoteAddr, userAgent string) (string, json.RawMessage, error)
	pollFn   func(ctx context.Context, id string) ([]json.RawMessage, error)
	postFn   func(ctx context.Context, id string, raw []byte) (json.RawMessage, error)
	closeFn  func(ctx context.Context, id string) error
	sessions int
}

func (m *mockPolling) Open(ctx context.Context, remoteAddr, userAgent string) (string, json.RawMessage, error) {
	if m.openFn != nil {
		return m.openFn(ctx, remoteAddr, userAgent)
	}
	return "", nil, errors.New("not implemented")
}

func (m *mockPolling) Poll(ctx context.Context, id string) ([]json.RawMessage, error) {
	if m.pollFn != nil {
		return m.pollFn(ctx, id)
	}
	return nil, nil
}

func (m *mockPolling) Post(ctx context.Context, id string, raw []byte) (json.RawMessage, error) {
	if m.postFn != nil {
		return m.postFn(ctx, id, raw)
	}
	return nil, nil
}

func (m *mockPolling) Close(ctx context.Context, id string) error {
	if m.closeFn != nil {
		return m.closeFn(ctx, id)
	}
	return nil
}

func (m *mockPolling) Sessions() int {
	return m.sessions
}

// --- Test server ---

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Port:             "0",
		CORSOrigins:      "http://localhost:3000",
		MaxMessageSize:   1 << 20,
		APIRatePerSecond: 1000,
		APIBurst:         1000,
	}
}

func newTestServer(t *testing.T, realtime realtimeService, opts ...func(*Server)) *Server {
	t.Helper()

	srv := &Server{
		echo:     echo.New(),
		config:   testConfig(),
		clock:    clockwork.NewFakeClockAt(testNow),
		realtime: realtime,
	}
	srv.startTime = srv.clock.Now()
	srv.ingestor = app.NewIngestor(realtime, nil)

	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()

	return srv
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

func withPolling(p pollingService) func(*Server) {
	return func(s *Server) {
		s.polling = p
	}
}

func withConfig(mutate func(*config.Config)) func(*Server) {
	return func(s *Server) {
		mutate(s.config)
	}
}

func withWebSocketHandler(h http.Handler) func(*Server) {
	return func(s *Server) {
		s.websocketHandler = h
	}
}

// serve runs a request through the full middleware stack.
func serve(srv *Server, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}
