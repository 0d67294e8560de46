package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/staffpulse/internal/domain"
	apperrors "github.com/pscheid92/staffpulse/internal/platform/errors"
)

const evictReason = "send queue full"

type broadcastCmd struct {
	baseCommand
	room     string
	everyone bool
	frame    []byte
	reply    chan<- int
}

type sendToCmd struct {
	baseCommand
	id    string
	frame []byte
	reply chan<- bool
}

var _ domain.Dispatcher = (*Service)(nil)

// Broadcast wraps event in an envelope and delivers it to every member of its room.
// Events from one caller reach each member in call order.
func (s *Service) Broadcast(ctx context.Context, event domain.Event) (domain.Delivery, error) {
	if event == nil {
		return domain.Delivery{}, apperrors.ValidationError("event is required")
	}

	env := domain.NewEnvelope(uuid.NewString(), event, s.clock.Now())
	frame, err := domain.EncodeFrame(domain.FrameMessage, "", env)
	if err != nil {
		return domain.Delivery{}, apperrors.InternalError("failed to encode envelope", err)
	}

	room, everyone := domain.Route(event)
	delivered, err := request(ctx, s, func(reply chan<- int) command {
		return broadcastCmd{room: room, everyone: everyone, frame: frame, reply: reply}
	})
	if err != nil {
		return domain.Delivery{}, err
	}

	s.metrics.BroadcastsTotal.WithLabelValues(string(env.Event), string(env.Priority)).Inc()
	slog.DebugContext(ctx, "Event broadcast",
		"message_id", env.ID,
		"event", env.Event,
		"room", room,
		"priority", env.Priority,
		"delivered", delivered,
	)
	return domain.Delivery{MessageID: env.ID, Room: room, Priority: env.Priority, Delivered: delivered}, nil
}

// BroadcastToAll sends env to every registered connection, authenticated or not.
func (s *Service) BroadcastToAll(ctx context.Context, env domain.Envelope) (int, error) {
	frame, err := domain.EncodeFrame(domain.FrameMessage, "", env)
	if err != nil {
		return 0, apperrors.InternalError("failed to encode envelope", err)
	}
	delivered, err := request(ctx, s, func(reply chan<- int) command {
		return broadcastCmd{everyone: true, frame: frame, reply: reply}
	})
	if err != nil {
		return 0, err
	}
	s.metrics.BroadcastsTotal.WithLabelValues(string(env.Event), string(env.Priority)).Inc()
	return delivered, nil
}

// AnnounceShutdown warns every connection, including unauthenticated ones, that the server
// closes their sockets within disconnectIn.
func (s *Service) AnnounceShutdown(ctx context.Context, disconnectIn time.Duration) (int, error) {
	notice := domain.SystemNotice{
		Kind:         domain.NoticeMaintenance,
		Title:        "Server shutting down",
		Message:      "The server is restarting. Reconnect in a few seconds.",
		Severity:     "warning",
		Reason:       "server_shutdown",
		DisconnectIn: int(disconnectIn.Seconds()),
	}
	env := domain.NewEnvelope(uuid.NewString(), notice, s.clock.Now())
	delivered, err := s.BroadcastToAll(ctx, env)
	if err != nil {
		return 0, err
	}
	slog.InfoContext(ctx, "Shutdown notice sent", "message_id", env.ID, "delivered", delivered)
	return delivered, nil
}

// SendToConnection delivers env to a single connection. It reports false when the connection
// is unknown or had to be evicted.
func (s *Service) SendToConnection(ctx context.Context, id string, env domain.Envelope) (bool, error) {
	frame, err := domain.EncodeFrame(domain.FrameMessage, "", env)
	if err != nil {
		return false, apperrors.InternalError("failed to encode envelope", err)
	}
	return request(ctx, s, func(reply chan<- bool) command {
		return sendToCmd{id: id, frame: frame, reply: reply}
	})
}

func (s *Service) handleBroadcast(c broadcastCmd) int {
	if c.everyone {
		ids := make([]string, 0, len(s.clients))
		for id := range s.clients {
			ids = append(ids, id)
		}
		return s.deliver(ids, c.frame)
	}

	members := s.membership[c.room]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return s.deliver(ids, c.frame)
}

func (s *Service) handleSendTo(c sendToCmd) bool {
	if _, ok := s.clients[c.id]; !ok {
		return false
	}
	return s.deliver([]string{c.id}, c.frame) == 1
}

// deliver queues frame on every connection in ids. Connections whose sender refuses the frame
// are closed and removed after the loop.
func (s *Service) deliver(ids []string, frame []byte) int {
	delivered := 0
	var slow []string
	for _, id := range ids {
		cl, ok := s.clients[id]
		if !ok {
			continue
		}
		if cl.sender.Send(frame) {
			delivered++
		} else {
			slow = append(slow, id)
		}
	}

	for _, id := range slow {
		s.evict(id)
	}

	s.metrics.DeliveriesTotal.Add(float64(delivered))
	return delivered
}

func (s *Service) evict(id string) {
	cl, ok := s.removeClient(id)
	if !ok {
		return
	}
	slog.Warn("Disconnecting slow client", "socket_id", id, "transport", cl.info.Transport)
	s.metrics.SlowClientsEvicted.Inc()
	cl.sender.Close(evictReason)
}
