package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/staffpulse/internal/adapter/metrics"
	"github.com/pscheid92/staffpulse/internal/domain"
	apperrors "github.com/pscheid92/staffpulse/internal/platform/errors"
	"github.com/tidwall/gjson"
)

// Client events.
const (
	EventAuthenticate = "authenticate"
	EventSubscribe    = "subscribe"
	EventUnsubscribe  = "unsubscribe"
	EventPing         = "client:ping"
	EventMessage      = "message"
)

const maxChannelsPerSubscribe = 50

// Core is the part of the broadcast service the transports drive.
type Core interface {
	RegisterConnection(ctx context.Context, id, remoteAddr, userAgent string, sender domain.Sender) (domain.Connection, error)
	Authenticate(ctx context.Context, id string, identity domain.Identity) (domain.Connection, error)
	Subscribe(ctx context.Context, id string, channels []string, scope domain.Scope) (domain.Subscription, error)
	Unsubscribe(ctx context.Context, id string, channels []string) ([]string, error)
	Connection(ctx context.Context, id string) (domain.Connection, error)
	Touch(id string)
	Remove(ctx context.Context, id string) (domain.Connection, bool)
}

// Router turns client frames into core calls and builds the reply frame. It is shared by the
// WebSocket and long-polling transports.
type Router struct {
	core         Core
	verifier     *TokenVerifier
	authRequired bool
	clock        clockwork.Clock
	metrics      *metrics.WebSocketMetrics
}

// NewRouter creates a router. verifier may be nil when authRequired is false.
func NewRouter(core Core, verifier *TokenVerifier, authRequired bool, clock clockwork.Clock, m *metrics.WebSocketMetrics) *Router {
	return &Router{core: core, verifier: verifier, authRequired: authRequired, clock: clock, metrics: m}
}

type authenticateRequest struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
	Token          string `json:"token"`
}

type authenticateReply struct {
	Success        bool   `json:"success"`
	SocketID       string `json:"socket_id"`
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
}

type subscribeRequest struct {
	Channels []string `json:"channels"`
	domain.Scope
}

type subscribeReply struct {
	Success bool `json:"success"`
	domain.Subscription
}

type unsubscribeRequest struct {
	Channels []string `json:"channels"`
}

type unsubscribeReply struct {
	Success bool `json:"success"`
}

type pongReply struct {
	Pong       bool   `json:"pong"`
	ServerTime string `json:"server_time"`
}

// Welcome builds the frame sent once a connection is registered.
func (r *Router) Welcome(id string) ([]byte, error) {
	return domain.EncodeFrame(domain.FrameConnected, "", domain.ConnectedPayload{
		SocketID:   id,
		ServerTime: r.clock.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Handle processes one client frame and returns the frame to send back, or nil when the
// frame needs no reply. Failures become {success:false} acks; they never end the connection.
func (r *Router) Handle(ctx context.Context, id string, raw []byte) []byte {
	r.core.Touch(id)

	if !gjson.ValidBytes(raw) {
		r.observe("malformed")
		return r.reply("", apperrors.ValidationError("malformed frame").ToAck())
	}

	frame := gjson.ParseBytes(raw)
	event := frame.Get("event").String()
	ack := frame.Get("ack").String()
	data := frame.Get("data")

	var (
		result any
		err    error
	)
	switch event {
	case EventAuthenticate:
		r.observe(event)
		result, err = r.authenticate(ctx, id, data)
	case EventSubscribe:
		r.observe(event)
		result, err = r.subscribe(ctx, id, data)
	case EventUnsubscribe:
		r.observe(event)
		result, err = r.unsubscribe(ctx, id, data)
	case EventPing:
		r.observe(event)
		result = pongReply{Pong: true, ServerTime: r.clock.Now().UTC().Format(time.RFC3339Nano)}
	case EventMessage:
		r.observe(event)
		return r.message(ctx, id, ack, data)
	default:
		r.observe("unknown")
		err = apperrors.ValidationError(fmt.Sprintf("%s: %q", domain.ErrUnknownEvent, event))
	}

	if err != nil {
		structured := apperrors.AsStructuredError(err)
		slog.DebugContext(ctx, "Client request failed", "socket_id", id, "event", event, "error", err)
		return r.reply(ack, structured.ToAck())
	}
	return r.reply(ack, result)
}

func (r *Router) observe(event string) {
	if r.metrics != nil {
		r.metrics.FramesReceived.WithLabelValues(event).Inc()
	}
}

func (r *Router) reply(ack string, data any) []byte {
	frame, err := domain.EncodeFrame(domain.FrameAck, ack, data)
	if err != nil {
		slog.Error("Failed to encode reply frame", "error", err)
		return nil
	}
	return frame
}

func decodeData(data gjson.Result, v any) error {
	if !data.Exists() {
		return apperrors.ValidationError("data is required")
	}
	if !data.IsObject() {
		return apperrors.ValidationError("data must be an object")
	}
	if err := json.Unmarshal([]byte(data.Raw), v); err != nil {
		return apperrors.ValidationError("invalid data: " + err.Error())
	}
	return nil
}

func (r *Router) authenticate(ctx context.Context, id string, data gjson.Result) (any, error) {
	var req authenticateRequest
	if err := decodeData(data, &req); err != nil {
		return nil, err
	}
	if req.UserID == "" || req.OrganizationID == "" {
		return nil, apperrors.ValidationError("user_id and organization_id are required")
	}
	if strings.Contains(req.OrganizationID, ":") {
		return nil, apperrors.ValidationError("organization_id must not contain ':'")
	}

	identity := domain.Identity{UserID: req.UserID, OrganizationID: req.OrganizationID, Role: req.Role}
	if r.authRequired {
		claims, err := r.verifier.Verify(req.Token, req.UserID, req.OrganizationID)
		if err != nil {
			slog.WarnContext(ctx, "Authentication rejected", "socket_id", id, "user_id", req.UserID, "error", err)
			return nil, apperrors.ValidationError("authentication failed")
		}
		if claims.Role != "" {
			identity.Role = claims.Role
		}
	}

	conn, err := r.core.Authenticate(ctx, id, identity)
	if err != nil {
		return nil, err
	}
	return authenticateReply{
		Success:        true,
		SocketID:       conn.ID,
		UserID:         conn.UserID,
		OrganizationID: conn.OrganizationID,
	}, nil
}

func (r *Router) subscribe(ctx context.Context, id string, data gjson.Result) (any, error) {
	var req subscribeRequest
	if err := decodeData(data, &req); err != nil {
		return nil, err
	}
	if err := validateChannels(req.Channels, true); err != nil {
		return nil, err
	}
	if err := validateScope(req.Scope); err != nil {
		return nil, err
	}

	conn, err := r.core.Connection(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.authRequired && !conn.IsAuthenticated() {
		return nil, apperrors.ValidationError("authentication required")
	}
	if conn.IsAuthenticated() {
		if req.OrganizationID == "" {
			req.OrganizationID = conn.OrganizationID
		} else if r.authRequired && req.OrganizationID != conn.OrganizationID {
			return nil, apperrors.ValidationError("cannot subscribe to another organization")
		}
	}

	sub, err := r.core.Subscribe(ctx, id, req.Channels, req.Scope)
	if err != nil {
		return nil, err
	}
	return subscribeReply{Success: true, Subscription: sub}, nil
}

func (r *Router) unsubscribe(ctx context.Context, id string, data gjson.Result) (any, error) {
	var req unsubscribeRequest
	if data.Exists() && data.Type != gjson.Null {
		if err := decodeData(data, &req); err != nil {
			return nil, err
		}
	}
	if err := validateChannels(req.Channels, false); err != nil {
		return nil, err
	}

	if r.authRequired {
		conn, err := r.core.Connection(ctx, id)
		if err != nil {
			return nil, err
		}
		if !conn.IsAuthenticated() {
			return nil, apperrors.ValidationError("authentication required")
		}
	}

	if _, err := r.core.Unsubscribe(ctx, id, req.Channels); err != nil {
		return nil, err
	}
	return unsubscribeReply{Success: true}, nil
}

// message acknowledges a client envelope. Only envelopes with requires_ack get a reply, which is
// a regular message frame carrying a message:ack envelope.
func (r *Router) message(ctx context.Context, id, ack string, data gjson.Result) []byte {
	if !data.IsObject() {
		return r.reply(ack, apperrors.ValidationError("data must be an object").ToAck())
	}
	if !data.Get("requires_ack").Bool() {
		return nil
	}

	messageID := data.Get("id").String()
	if messageID == "" {
		return r.reply(ack, apperrors.ValidationError("message id is required").ToAck())
	}

	env := domain.NewAckEnvelope(uuid.NewString(), messageID, r.clock.Now())
	frame, err := domain.EncodeFrame(domain.FrameMessage, ack, env)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode message ack", "socket_id", id, "error", err)
		return nil
	}
	return frame
}

func validateChannels(channels []string, required bool) error {
	if required && len(channels) == 0 {
		return apperrors.ValidationError("channels must not be empty")
	}
	if len(channels) > maxChannelsPerSubscribe {
		return apperrors.ValidationError(fmt.Sprintf("at most %d channels per request", maxChannelsPerSubscribe))
	}
	for _, ch := range channels {
		if ch == "" {
			return apperrors.ValidationError("channel names must not be empty")
		}
		if strings.Contains(ch, ":") {
			return apperrors.ValidationError(fmt.Sprintf("channel %q must not contain ':'", ch))
		}
	}
	return nil
}

func validateScope(scope domain.Scope) error {
	if err := scope.Validate(); err != nil {
		return apperrors.ValidationError("scope values must not contain ':'")
	}
	return nil
}
