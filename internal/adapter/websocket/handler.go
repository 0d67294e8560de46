package websocket

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/staffpulse/internal/adapter/metrics"
	"github.com/pscheid92/staffpulse/internal/platform/correlation"
	apperrors "github.com/pscheid92/staffpulse/internal/platform/errors"
)

const (
	defaultPingInterval = 25 * time.Second
	defaultPingTimeout  = 20 * time.Second
)

// HandlerOptions tunes the WebSocket transport.
type HandlerOptions struct {
	PingInterval   time.Duration
	PingTimeout    time.Duration
	MaxMessageSize int64
	Compression    bool
	AllowedOrigins []string
}

// Handler upgrades HTTP requests and runs one read loop per connection.
type Handler struct {
	core     Core
	router   *Router
	limits   *ConnectionLimits
	clock    clockwork.Clock
	metrics  *metrics.WebSocketMetrics
	opts     HandlerOptions
	upgrader websocket.Upgrader
	wg       sync.WaitGroup
}

func NewHandler(core Core, router *Router, limits *ConnectionLimits, clock clockwork.Clock, m *metrics.WebSocketMetrics, opts HandlerOptions) *Handler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = defaultPingTimeout
	}
	return &Handler{
		core:    core,
		router:  router,
		limits:  limits,
		clock:   clock,
		metrics: m,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    4096,
			WriteBufferSize:   4096,
			EnableCompression: opts.Compression,
			CheckOrigin:       NewCheckOrigin(opts.AllowedOrigins),
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if h.limits != nil {
		ok, reason := h.limits.Acquire(ip)
		if !ok {
			h.reject(string(reason))
			slog.Warn("WebSocket connection rejected", "remote_addr", ip, "reason", reason)
			status := http.StatusServiceUnavailable
			if reason == LimitReasonRate {
				status = http.StatusTooManyRequests
			}
			http.Error(w, http.StatusText(status), status)
			return
		}
		defer h.limits.Release()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.reject("upgrade")
		slog.Debug("WebSocket upgrade failed", "remote_addr", ip, "error", err)
		return
	}

	h.wg.Add(1)
	defer h.wg.Done()
	h.serve(r.Context(), conn, ip, r.UserAgent())
}

// Wait blocks until every connection served by h has finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, ip, userAgent string) {
	id := uuid.NewString()
	ctx = correlation.WithSocketID(ctx, id)

	cw := newClientWriter(conn, h.clock, h.opts.PingInterval, h.metrics)
	defer cw.stop()

	if _, err := h.core.RegisterConnection(ctx, id, ip, userAgent, cw); err != nil {
		h.reject("capacity")
		slog.WarnContext(ctx, "Connection registration failed", "error", err)
		cw.Close(apperrors.AsStructuredError(err).Message)
		return
	}
	defer h.core.Remove(context.WithoutCancel(ctx), id)

	welcome, err := h.router.Welcome(id)
	if err == nil {
		cw.Send(welcome)
	}
	slog.InfoContext(ctx, "Client connected", "remote_addr", ip)

	h.readLoop(ctx, conn, cw, id)
	slog.InfoContext(ctx, "Client disconnected")
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, cw *clientWriter, id string) {
	idle := h.opts.PingInterval + h.opts.PingTimeout
	conn.SetReadLimit(h.opts.MaxMessageSize)
	_ = conn.SetReadDeadline(h.clock.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		h.core.Touch(id)
		return conn.SetReadDeadline(h.clock.Now().Add(idle))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.DebugContext(ctx, "WebSocket read ended", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(h.clock.Now().Add(idle))

		if reply := h.router.Handle(ctx, id, msg); reply != nil {
			if !cw.Send(reply) {
				slog.WarnContext(ctx, "Dropping reply: send queue full")
			}
		}
	}
}

func (h *Handler) reject(reason string) {
	if h.metrics != nil {
		h.metrics.ConnectionsRejected.WithLabelValues(reason).Inc()
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
