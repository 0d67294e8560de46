package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ServesRegisteredMetrics(t *testing.T) {
	reg := NewRegistry()
	m := NewBroadcastMetrics(reg)
	m.Rooms.Set(3)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "staffpulse_broadcast_rooms 3")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestIngestMetrics_Observe(t *testing.T) {
	m := NewIngestMetrics(NewRegistry())

	m.Observe("redis", "dispatched")
	m.Observe("redis", "dispatched")
	m.Observe("kafka", "invalid")

	assert.InDelta(t, 2, testutil.ToFloat64(m.MessagesTotal.WithLabelValues("redis", "dispatched")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesTotal.WithLabelValues("kafka", "invalid")), 0)
}

func TestHTTPMetrics_SkipsRealtimeAndHealth(t *testing.T) {
	m := NewHTTPMetrics(NewRegistry())
	e := echo.New()
	e.Use(m.Middleware())
	ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	e.GET("/ws", ok)
	e.GET("/health/live", ok)
	e.GET("/api/realtime/stats", ok)

	for _, path := range []string{"/ws", "/health/live", "/api/realtime/stats"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestsTotal))
	assert.InDelta(t, 1, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodGet, "/api/realtime/stats", "200")), 0)
}
