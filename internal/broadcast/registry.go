package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/pscheid92/staffpulse/internal/domain"
	apperrors "github.com/pscheid92/staffpulse/internal/platform/errors"
)

type connResult struct {
	conn domain.Connection
	err  error
}

type registerCmd struct {
	baseCommand
	id         string
	remoteAddr string
	userAgent  string
	sender     domain.Sender
	reply      chan<- connResult
}

type authenticateCmd struct {
	baseCommand
	id       string
	identity domain.Identity
	reply    chan<- connResult
}

type touchCmd struct {
	baseCommand
	id string
}

type removeResult struct {
	conn    domain.Connection
	removed bool
}

type removeCmd struct {
	baseCommand
	id    string
	reply chan<- removeResult
}

type connectionCmd struct {
	baseCommand
	id    string
	reply chan<- connResult
}

type statsCmd struct {
	baseCommand
	reply chan<- domain.Stats
}

// RegisterConnection adds a fresh, unauthenticated connection. The sender receives every frame
// addressed to it until Remove is called or the connection is evicted.
func (s *Service) RegisterConnection(ctx context.Context, id, remoteAddr, userAgent string, sender domain.Sender) (domain.Connection, error) {
	res, err := request(ctx, s, func(reply chan<- connResult) command {
		return registerCmd{id: id, remoteAddr: remoteAddr, userAgent: userAgent, sender: sender, reply: reply}
	})
	if err != nil {
		return domain.Connection{}, err
	}
	return res.conn, res.err
}

// Authenticate attaches an identity to a connection and joins its organization room.
// Re-authenticating into another organization leaves the previous organization room.
func (s *Service) Authenticate(ctx context.Context, id string, identity domain.Identity) (domain.Connection, error) {
	res, err := request(ctx, s, func(reply chan<- connResult) command {
		return authenticateCmd{id: id, identity: identity, reply: reply}
	})
	if err != nil {
		return domain.Connection{}, err
	}
	return res.conn, res.err
}

// Touch records client activity. It never blocks; when the command queue is full the update
// is dropped.
func (s *Service) Touch(id string) {
	select {
	case s.cmdCh <- touchCmd{id: id}:
	default:
	}
}

// Remove drops a connection and all of its memberships. It returns the final snapshot and
// false when the id was not registered, so calling it twice is harmless.
func (s *Service) Remove(ctx context.Context, id string) (domain.Connection, bool) {
	res, err := request(ctx, s, func(reply chan<- removeResult) command {
		return removeCmd{id: id, reply: reply}
	})
	if err != nil {
		return domain.Connection{}, false
	}
	return res.conn, res.removed
}

// Connection returns a snapshot of one connection.
func (s *Service) Connection(ctx context.Context, id string) (domain.Connection, error) {
	res, err := request(ctx, s, func(reply chan<- connResult) command {
		return connectionCmd{id: id, reply: reply}
	})
	if err != nil {
		return domain.Connection{}, err
	}
	return res.conn, res.err
}

// Stats summarizes connections and rooms.
func (s *Service) Stats(ctx context.Context) (domain.Stats, error) {
	return request(ctx, s, func(reply chan<- domain.Stats) command {
		return statsCmd{reply: reply}
	})
}

func notFound(id string) error {
	return apperrors.NotFoundError("connection not found", domain.ErrConnectionNotFound).WithField("socket_id", id)
}

func (s *Service) handleRegister(c registerCmd) connResult {
	if _, exists := s.clients[c.id]; exists {
		return connResult{err: apperrors.ValidationError("connection id already registered").WithField("socket_id", c.id)}
	}
	if len(s.clients) >= s.opts.MaxConnections {
		slog.Warn("Rejecting client: max connections reached", "max_connections", s.opts.MaxConnections)
		return connResult{err: apperrors.UnavailableError("server at connection capacity", domain.ErrCapacity)}
	}

	now := s.clock.Now().UTC()
	cl := &client{
		info: domain.Connection{
			ID:           c.id,
			ConnectedAt:  now,
			LastActivity: now,
			RemoteAddr:   c.remoteAddr,
			UserAgent:    c.userAgent,
			Status:       domain.StatusConnected,
			Transport:    c.sender.Transport(),
		},
		rooms:  make(map[string]struct{}),
		sender: c.sender,
	}
	s.clients[c.id] = cl
	s.metrics.Connections.WithLabelValues(string(cl.info.Transport)).Inc()

	slog.Debug("Client registered", "socket_id", c.id, "transport", cl.info.Transport, "total_clients", len(s.clients))
	return connResult{conn: snapshot(cl)}
}

func (s *Service) handleAuthenticate(c authenticateCmd) connResult {
	cl, ok := s.clients[c.id]
	if !ok {
		return connResult{err: notFound(c.id)}
	}

	newOrg := c.identity.OrganizationID
	prevOrg := ""
	if cl.info.IsAuthenticated() {
		prevOrg = cl.info.OrganizationID
	}

	if newOrg != prevOrg && s.orgCounts[newOrg] >= s.opts.MaxConnectionsPerOrg {
		slog.Warn("Rejecting authentication: organization at capacity",
			"socket_id", c.id,
			"organization_id", newOrg,
			"max_connections_per_org", s.opts.MaxConnectionsPerOrg,
		)
		return connResult{err: apperrors.ValidationError(
			fmt.Sprintf("organization connection limit (%d) reached", s.opts.MaxConnectionsPerOrg),
		).WithCause(domain.ErrOrgCapacity).WithField("organization_id", newOrg)}
	}

	if prevOrg != "" && prevOrg != newOrg {
		s.leave(cl, domain.OrganizationRoom(prevOrg))
		s.decrementOrg(prevOrg)
	}
	if newOrg != prevOrg {
		s.orgCounts[newOrg]++
	}

	cl.info.UserID = c.identity.UserID
	cl.info.OrganizationID = newOrg
	cl.info.Role = c.identity.Role
	cl.info.Status = domain.StatusAuthenticated
	cl.info.LastActivity = s.clock.Now().UTC()

	orgRoom := domain.OrganizationRoom(newOrg)
	s.ensureRoom(orgRoom, domain.RoomTypeOrganization, newOrg)
	s.join(cl, orgRoom)

	slog.Info("Client authenticated",
		"socket_id", c.id,
		"user_id", c.identity.UserID,
		"organization_id", newOrg,
		"role", c.identity.Role,
	)
	return connResult{conn: snapshot(cl)}
}

func (s *Service) handleTouch(c touchCmd) {
	if cl, ok := s.clients[c.id]; ok {
		cl.info.LastActivity = s.clock.Now().UTC()
	}
}

func (s *Service) handleRemove(id string) removeResult {
	cl, ok := s.removeClient(id)
	if !ok {
		return removeResult{}
	}
	return removeResult{conn: snapshot(cl), removed: true}
}

// removeClient drops id from the registry and every room. The returned client keeps its last
// room set so callers can report what it left.
func (s *Service) removeClient(id string) (*client, bool) {
	cl, ok := s.clients[id]
	if !ok {
		return nil, false
	}

	rooms := maps.Clone(cl.rooms)
	for key := range rooms {
		s.leave(cl, key)
	}
	cl.rooms = rooms

	if cl.info.IsAuthenticated() {
		s.decrementOrg(cl.info.OrganizationID)
	}
	cl.info.Status = domain.StatusDisconnected

	delete(s.clients, id)
	s.metrics.Connections.WithLabelValues(string(cl.info.Transport)).Dec()

	slog.Debug("Client unregistered", "socket_id", id, "remaining_clients", len(s.clients))
	return cl, true
}

func (s *Service) decrementOrg(org string) {
	s.orgCounts[org]--
	if s.orgCounts[org] <= 0 {
		delete(s.orgCounts, org)
	}
}

func (s *Service) handleConnection(id string) connResult {
	cl, ok := s.clients[id]
	if !ok {
		return connResult{err: notFound(id)}
	}
	return connResult{conn: snapshot(cl)}
}

func (s *Service) handleStats() domain.Stats {
	stats := domain.Stats{
		Connections:     len(s.clients),
		Rooms:           len(s.rooms),
		Organizations:   maps.Clone(s.orgCounts),
		ByTransport:     make(map[string]int),
		CommandQueueLen: len(s.cmdCh),
	}
	for _, cl := range s.clients {
		if cl.info.IsAuthenticated() {
			stats.Authenticated++
		}
		stats.ByTransport[string(cl.info.Transport)]++
	}
	return stats
}

func snapshot(cl *client) domain.Connection {
	conn := cl.info
	conn.Rooms = slices.Sorted(maps.Keys(cl.rooms))
	return conn
}
