package broadcast

import (
	"context"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/pscheid92/staffpulse/internal/domain"
)

type subscribeResult struct {
	sub domain.Subscription
	err error
}

type subscribeCmd struct {
	baseCommand
	id       string
	subID    string
	channels []string
	scope    domain.Scope
	reply    chan<- subscribeResult
}

type unsubscribeResult struct {
	left []string
	err  error
}

type unsubscribeCmd struct {
	baseCommand
	id       string
	channels []string
	reply    chan<- unsubscribeResult
}

// Subscribe joins the connection to one room per channel, keyed by scope. Rooms are created on
// demand. Subscribing to a room the connection is already in is a no-op for that room.
func (s *Service) Subscribe(ctx context.Context, id string, channels []string, scope domain.Scope) (domain.Subscription, error) {
	res, err := request(ctx, s, func(reply chan<- subscribeResult) command {
		return subscribeCmd{
			id:       id,
			subID:    uuid.NewString(),
			channels: slices.Clone(channels),
			scope:    scope,
			reply:    reply,
		}
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	return res.sub, res.err
}

// Unsubscribe leaves every room whose key was built from one of channels. With no channels the
// connection leaves all of its rooms. It returns the left room keys, sorted.
func (s *Service) Unsubscribe(ctx context.Context, id string, channels []string) ([]string, error) {
	res, err := request(ctx, s, func(reply chan<- unsubscribeResult) command {
		return unsubscribeCmd{id: id, channels: slices.Clone(channels), reply: reply}
	})
	if err != nil {
		return nil, err
	}
	return res.left, res.err
}

func (s *Service) handleSubscribe(c subscribeCmd) subscribeResult {
	cl, ok := s.clients[c.id]
	if !ok {
		return subscribeResult{err: notFound(c.id)}
	}

	roomType := domain.RoomTypeOf(c.scope)
	keys := make([]string, 0, len(c.channels))
	for _, channel := range c.channels {
		key := domain.RoomKey(channel, c.scope)
		s.ensureRoom(key, roomType, c.scope.OrganizationID)
		s.join(cl, key)
		keys = append(keys, key)
	}
	cl.info.LastActivity = s.clock.Now().UTC()

	slog.Debug("Client subscribed", "socket_id", c.id, "rooms", keys)
	return subscribeResult{sub: domain.Subscription{ID: c.subID, Channels: c.channels, Rooms: keys}}
}

func (s *Service) handleUnsubscribe(c unsubscribeCmd) unsubscribeResult {
	cl, ok := s.clients[c.id]
	if !ok {
		return unsubscribeResult{err: notFound(c.id)}
	}

	var left []string
	for key := range cl.rooms {
		if len(c.channels) == 0 || slices.ContainsFunc(c.channels, func(ch string) bool {
			return domain.MatchesChannel(key, ch)
		}) {
			left = append(left, key)
		}
	}
	for _, key := range left {
		s.leave(cl, key)
	}
	slices.Sort(left)
	cl.info.LastActivity = s.clock.Now().UTC()

	slog.Debug("Client unsubscribed", "socket_id", c.id, "rooms", left)
	return unsubscribeResult{left: left}
}
