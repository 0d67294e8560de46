package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/staffpulse/internal/adapter/metrics"
	"github.com/pscheid92/staffpulse/internal/domain"
	apperrors "github.com/pscheid92/staffpulse/internal/platform/errors"
)

const (
	commandTimeout    = 5 * time.Second
	stopTimeout       = 10 * time.Second
	commandBufferSize = 256
	depthWarnLevel    = 200 // 80% of commandBufferSize
)

// Options bounds the service. Zero values fall back to DefaultOptions.
type Options struct {
	MaxConnections       int
	MaxConnectionsPerOrg int
	RoomCleanupInterval  time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxConnections:       10000,
		MaxConnectionsPerOrg: 1000,
		RoomCleanupInterval:  5 * time.Minute,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxConnections <= 0 {
		o.MaxConnections = d.MaxConnections
	}
	if o.MaxConnectionsPerOrg <= 0 {
		o.MaxConnectionsPerOrg = d.MaxConnectionsPerOrg
	}
	if o.RoomCleanupInterval <= 0 {
		o.RoomCleanupInterval = d.RoomCleanupInterval
	}
	return o
}

// command is the message type of the service actor.
type command interface{ isCommand() }

type baseCommand struct{}

func (baseCommand) isCommand() {}

type stopCmd struct {
	baseCommand
}

// client is the actor-owned state of one connection.
type client struct {
	info   domain.Connection
	rooms  map[string]struct{}
	sender domain.Sender
}

type roomEntry struct {
	key            string
	roomType       domain.RoomType
	organizationID string
	createdAt      time.Time
}

// Service is the realtime core: connection registry, room directory, subscriptions and
// dispatch, all owned by one goroutine.
type Service struct {
	cmdCh   chan command
	clock   clockwork.Clock
	opts    Options
	metrics *metrics.BroadcastMetrics
	done    chan struct{}

	stopOnce    sync.Once
	stopTimeout time.Duration

	// Owned by the run goroutine.
	clients    map[string]*client
	rooms      map[string]*roomEntry
	membership map[string]map[string]struct{}
	orgCounts  map[string]int
}

// NewService starts the service goroutine. Call Stop to release it.
func NewService(clock clockwork.Clock, opts Options, m *metrics.BroadcastMetrics) *Service {
	s := &Service{
		cmdCh:       make(chan command, commandBufferSize),
		clock:       clock,
		opts:        opts.withDefaults(),
		metrics:     m,
		done:        make(chan struct{}),
		stopTimeout: stopTimeout,
		clients:     make(map[string]*client),
		rooms:       make(map[string]*roomEntry),
		membership:  make(map[string]map[string]struct{}),
		orgCounts:   make(map[string]int),
	}
	go s.run()
	return s
}

// Stop closes every connection and waits for the service goroutine to exit.
// It is safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		select {
		case s.cmdCh <- stopCmd{}:
		case <-s.done:
			return
		}

		timeout := s.clock.NewTimer(s.stopTimeout)
		defer timeout.Stop()

		select {
		case <-s.done:
			slog.Info("Broadcast service stopped gracefully")
		case <-timeout.Chan():
			slog.Warn("Broadcast service stop timeout exceeded", "timeout", s.stopTimeout)
			s.metrics.StopTimeouts.Inc()
		}
	})
}

// enqueue hands cmd to the actor without waiting for a reply.
func (s *Service) enqueue(ctx context.Context, cmd command) error {
	select {
	case s.cmdCh <- cmd:
		return nil
	case <-s.done:
		return apperrors.UnavailableError("broadcast service is not running", domain.ErrServiceStopped)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// request enqueues the command built around a fresh reply channel and waits for the answer.
func request[T any](ctx context.Context, s *Service, build func(reply chan<- T) command) (T, error) {
	var zero T
	reply := make(chan T, 1)
	if err := s.enqueue(ctx, build(reply)); err != nil {
		return zero, err
	}

	timer := s.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case v := <-reply:
		return v, nil
	case <-timer.Chan():
		s.metrics.CommandTimeouts.Inc()
		return zero, apperrors.UnavailableError(fmt.Sprintf("command timed out after %v", commandTimeout), nil)
	case <-s.done:
		return zero, apperrors.UnavailableError("broadcast service is not running", domain.ErrServiceStopped)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (s *Service) run() {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Broadcast service panic recovered", "panic", r)
			s.metrics.Panics.Inc()
			s.closeAllClients("internal error")
		}
	}()

	cleanup := s.clock.NewTicker(s.opts.RoomCleanupInterval)
	defer cleanup.Stop()

	depthTicker := s.clock.NewTicker(time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(s.cmdCh)
			s.metrics.CommandQueueDepth.Set(float64(depth))
			if depth > depthWarnLevel {
				slog.Warn("Command channel near capacity", "depth", depth, "capacity", cap(s.cmdCh))
			}

		case <-cleanup.Chan():
			if swept := s.sweepEmpty(); swept > 0 {
				slog.Info("Removed empty rooms", "count", swept, "remaining", len(s.rooms))
			}

		case cmd := <-s.cmdCh:
			if _, ok := cmd.(stopCmd); ok {
				s.handleStop()
				return
			}
			s.dispatch(cmd)
		}
	}
}

func (s *Service) dispatch(cmd command) {
	switch c := cmd.(type) {
	case registerCmd:
		c.reply <- s.handleRegister(c)
	case authenticateCmd:
		c.reply <- s.handleAuthenticate(c)
	case touchCmd:
		s.handleTouch(c)
	case removeCmd:
		c.reply <- s.handleRemove(c.id)
	case connectionCmd:
		c.reply <- s.handleConnection(c.id)
	case statsCmd:
		c.reply <- s.handleStats()
	case ensureRoomCmd:
		c.reply <- s.ensureRoom(c.key, c.roomType, c.organizationID)
	case listRoomsCmd:
		c.reply <- s.handleListRooms()
	case sweepCmd:
		c.reply <- s.sweepEmpty()
	case subscribeCmd:
		c.reply <- s.handleSubscribe(c)
	case unsubscribeCmd:
		c.reply <- s.handleUnsubscribe(c)
	case broadcastCmd:
		c.reply <- s.handleBroadcast(c)
	case sendToCmd:
		c.reply <- s.handleSendTo(c)
	default:
		slog.Warn("Broadcast service received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
	}
}

func (s *Service) handleStop() {
	slog.Info("Broadcast service shutting down", "connections", len(s.clients), "rooms", len(s.rooms))
	total := len(s.clients)
	s.closeAllClients("server shutting down")
	slog.Info("Broadcast service shutdown complete", "disconnected_clients", total)
}

// closeAllClients closes every connection and clears all state.
// Used during panic recovery and graceful shutdown.
func (s *Service) closeAllClients(reason string) {
	for id, c := range s.clients {
		c.sender.Close(reason)
		s.metrics.Connections.WithLabelValues(string(c.sender.Transport())).Dec()
		delete(s.clients, id)
	}
	clear(s.rooms)
	clear(s.membership)
	clear(s.orgCounts)
	s.metrics.Rooms.Set(0)
}
