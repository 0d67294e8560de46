package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/staffpulse/internal/adapter/metrics"
	"github.com/pscheid92/staffpulse/internal/domain"
	"github.com/pscheid92/staffpulse/internal/platform/correlation"
	apperrors "github.com/pscheid92/staffpulse/internal/platform/errors"
)

const defaultPollWait = 25 * time.Second

// pollSession buffers frames for a long-polling client between polls.
type pollSession struct {
	id     string
	mu     sync.Mutex
	queue  [][]byte
	notify chan struct{}
	closed bool
	seen   time.Time
}

var _ domain.Sender = (*pollSession)(nil)

func newPollSession(id string, now time.Time) *pollSession {
	return &pollSession{id: id, notify: make(chan struct{}, 1), seen: now}
}

func (s *pollSession) Send(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) >= messageBufferSize {
		return false
	}
	s.queue = append(s.queue, frame)
	s.signal()
	return true
}

func (s *pollSession) Close(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.signal()
}

func (s *pollSession) Transport() domain.TransportKind {
	return domain.TransportPolling
}

// signal wakes a waiting poll. Must be called with mu held.
func (s *pollSession) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// drain returns the queued frames and whether the session was closed.
func (s *pollSession) drain(now time.Time) ([]json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = now
	frames := make([]json.RawMessage, 0, len(s.queue))
	for _, f := range s.queue {
		frames = append(frames, json.RawMessage(f))
	}
	s.queue = nil
	return frames, s.closed
}

func (s *pollSession) lastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen
}

// PollingManager serves the long-polling fallback. Each session is a connection in the core
// whose frames wait in memory until the client polls.
type PollingManager struct {
	core     Core
	router   *Router
	limits   *ConnectionLimits
	clock    clockwork.Clock
	metrics  *metrics.WebSocketMetrics
	pollWait time.Duration
	expiry   time.Duration

	mu       sync.Mutex
	sessions map[string]*pollSession
}

// NewPollingManager creates the manager. Sessions not polled within expiry are dropped by Run.
func NewPollingManager(core Core, router *Router, limits *ConnectionLimits, clock clockwork.Clock, m *metrics.WebSocketMetrics, pollWait, expiry time.Duration) *PollingManager {
	if pollWait <= 0 {
		pollWait = defaultPollWait
	}
	if expiry <= 0 {
		expiry = defaultPingInterval + defaultPingTimeout
	}
	return &PollingManager{
		core:     core,
		router:   router,
		limits:   limits,
		clock:    clock,
		metrics:  m,
		pollWait: pollWait,
		expiry:   expiry,
		sessions: make(map[string]*pollSession),
	}
}

func sessionNotFound(id string) error {
	return apperrors.NotFoundError("polling session not found", domain.ErrConnectionNotFound).WithField("socket_id", id)
}

// Open registers a new polling session and returns its id with the connected frame.
func (m *PollingManager) Open(ctx context.Context, remoteAddr, userAgent string) (string, json.RawMessage, error) {
	if m.limits != nil {
		if ok, reason := m.limits.Acquire(remoteAddr); !ok {
			if m.metrics != nil {
				m.metrics.ConnectionsRejected.WithLabelValues(string(reason)).Inc()
			}
			if reason == LimitReasonRate {
				return "", nil, apperrors.RateLimitedError("connection rate exceeded")
			}
			return "", nil, apperrors.UnavailableError("server at connection capacity", domain.ErrCapacity)
		}
	}

	id := uuid.NewString()
	session := newPollSession(id, m.clock.Now())
	if _, err := m.core.RegisterConnection(ctx, id, remoteAddr, userAgent, session); err != nil {
		m.release()
		return "", nil, err
	}

	m.mu.Lock()
	m.sessions[id] = session
	m.mu.Unlock()

	welcome, err := m.router.Welcome(id)
	if err != nil {
		return "", nil, apperrors.InternalError("failed to encode connected frame", err)
	}
	slog.InfoContext(correlation.WithSocketID(ctx, id), "Polling session opened", "remote_addr", remoteAddr)
	return id, welcome, nil
}

// Poll waits up to the poll wait for frames and returns everything queued, possibly nothing.
func (m *PollingManager) Poll(ctx context.Context, id string) ([]json.RawMessage, error) {
	session, ok := m.session(id)
	if !ok {
		return nil, sessionNotFound(id)
	}
	m.core.Touch(id)

	frames, closed := session.drain(m.clock.Now())
	if len(frames) > 0 {
		return frames, nil
	}
	if closed {
		m.forget(ctx, id)
		return nil, sessionNotFound(id)
	}

	timer := m.clock.NewTimer(m.pollWait)
	defer timer.Stop()

	select {
	case <-session.notify:
	case <-timer.Chan():
	case <-ctx.Done():
	}

	frames, closed = session.drain(m.clock.Now())
	if closed && len(frames) == 0 {
		m.forget(ctx, id)
		return nil, sessionNotFound(id)
	}
	return frames, nil
}

// Post handles one client frame for a session and returns the reply frame, if any.
func (m *PollingManager) Post(ctx context.Context, id string, raw []byte) (json.RawMessage, error) {
	if _, ok := m.session(id); !ok {
		return nil, sessionNotFound(id)
	}
	reply := m.router.Handle(correlation.WithSocketID(ctx, id), id, raw)
	if reply == nil {
		return nil, nil
	}
	return reply, nil
}

// Close ends a session on client request.
func (m *PollingManager) Close(ctx context.Context, id string) error {
	if _, ok := m.session(id); !ok {
		return sessionNotFound(id)
	}
	m.forget(ctx, id)
	return nil
}

// Run expires idle sessions until ctx is canceled.
func (m *PollingManager) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(m.expiry / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.expire(ctx)
		}
	}
}

func (m *PollingManager) expire(ctx context.Context) {
	cutoff := m.clock.Now().Add(-m.expiry)

	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		if s.lastSeen().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		slog.InfoContext(ctx, "Polling session expired", "socket_id", id)
		if m.metrics != nil {
			m.metrics.PollSessionsExpired.Inc()
		}
		m.forget(ctx, id)
	}
}

// Sessions returns the number of open polling sessions.
func (m *PollingManager) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *PollingManager) session(id string) (*pollSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// forget removes the session locally and from the core. Only the first call releases the slot.
func (m *PollingManager) forget(ctx context.Context, id string) {
	m.mu.Lock()
	session, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}

	session.Close("")
	m.core.Remove(context.WithoutCancel(ctx), id)
	m.release()
}

func (m *PollingManager) release() {
	if m.limits != nil {
		m.limits.Release()
	}
}
