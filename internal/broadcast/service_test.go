package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/staffpulse/internal/adapter/metrics"
	"github.com/pscheid92/staffpulse/internal/domain"
	apperrors "github.com/pscheid92/staffpulse/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSender records frames. With full set it refuses every frame.
type fakeSender struct {
	mu        sync.Mutex
	frames    [][]byte
	full      bool
	closed    bool
	reason    string
	transport domain.TransportKind
	onSend    func()
}

func newFakeSender() *fakeSender {
	return &fakeSender{transport: domain.TransportWebSocket}
}

func (f *fakeSender) Send(frame []byte) bool {
	if f.onSend != nil {
		f.onSend()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full || f.closed {
		return false
	}
	f.frames = append(f.frames, frame)
	return true
}

func (f *fakeSender) Close(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.reason = reason
}

func (f *fakeSender) Transport() domain.TransportKind { return f.transport }

func (f *fakeSender) messages(t *testing.T) []testFrame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]testFrame, 0, len(f.frames))
	for _, raw := range f.frames {
		var fr testFrame
		require.NoError(t, json.Unmarshal(raw, &fr))
		out = append(out, fr)
	}
	return out
}

func (f *fakeSender) closeReason() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.reason
}

type testFrame struct {
	Event string `json:"event"`
	Data  struct {
		ID             string          `json:"id"`
		Event          string          `json:"event"`
		Priority       string          `json:"priority"`
		OrganizationID string          `json:"organization_id"`
		DepartmentID   string          `json:"department_id"`
		Payload        json.RawMessage `json:"payload"`
	} `json:"data"`
}

func newTestService(t *testing.T, opts Options) (*Service, *clockwork.FakeClock, *metrics.BroadcastMetrics) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	m := metrics.NewBroadcastMetrics(prometheus.NewRegistry())
	svc := NewService(clock, opts, m)
	t.Cleanup(svc.Stop)
	return svc, clock, m
}

// connect registers and authenticates a connection in org.
func connect(t *testing.T, svc *Service, id, org string) *fakeSender {
	t.Helper()
	sender := newFakeSender()
	_, err := svc.RegisterConnection(context.Background(), id, "10.0.0.1", "test", sender)
	require.NoError(t, err)
	if org != "" {
		_, err = svc.Authenticate(context.Background(), id, domain.Identity{UserID: "user-" + id, OrganizationID: org, Role: "manager"})
		require.NoError(t, err)
	}
	return sender
}

func TestService_RegisterConnection(t *testing.T) {
	svc, clock, m := newTestService(t, Options{})
	ctx := context.Background()

	conn, err := svc.RegisterConnection(ctx, "s1", "10.0.0.1:5000", "curl", newFakeSender())
	require.NoError(t, err)

	assert.Equal(t, "s1", conn.ID)
	assert.Equal(t, domain.StatusConnected, conn.Status)
	assert.Equal(t, domain.TransportWebSocket, conn.Transport)
	assert.Equal(t, clock.Now().UTC(), conn.ConnectedAt)
	assert.Empty(t, conn.Rooms)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Connections.WithLabelValues("websocket")), 0)
}

func TestService_RegisterConnection_DuplicateID(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	connect(t, svc, "s1", "")

	_, err := svc.RegisterConnection(context.Background(), "s1", "", "", newFakeSender())
	assert.True(t, apperrors.IsType(err, apperrors.TypeValidation))
}

func TestService_RegisterConnection_Capacity(t *testing.T) {
	svc, _, _ := newTestService(t, Options{MaxConnections: 2})
	connect(t, svc, "s1", "")
	connect(t, svc, "s2", "")

	_, err := svc.RegisterConnection(context.Background(), "s3", "", "", newFakeSender())
	require.ErrorIs(t, err, domain.ErrCapacity)
	assert.True(t, apperrors.IsType(err, apperrors.TypeUnavailable))
}

func TestService_ConcurrentRegistration(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RegisterConnection(context.Background(), fmt.Sprintf("s%d", i), "", "", newFakeSender())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, stats.Connections)
	assert.Equal(t, 50, stats.ByTransport["websocket"])
}

func TestService_Authenticate_JoinsOrganizationRoom(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	connect(t, svc, "s1", "")

	conn, err := svc.Authenticate(context.Background(), "s1", domain.Identity{UserID: "u1", OrganizationID: "acme", Role: "agent"})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusAuthenticated, conn.Status)
	assert.Equal(t, "u1", conn.UserID)
	assert.Equal(t, "acme", conn.OrganizationID)
	assert.Equal(t, "agent", conn.Role)
	assert.Equal(t, []string{"organization:org:acme"}, conn.Rooms)

	rooms, err := svc.ListRooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, domain.RoomTypeOrganization, rooms[0].Type)
	assert.Equal(t, "acme", rooms[0].OrganizationID)
	assert.Equal(t, 1, rooms[0].Members)
}

func TestService_Authenticate_UnknownConnection(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})

	_, err := svc.Authenticate(context.Background(), "missing", domain.Identity{OrganizationID: "acme"})
	require.ErrorIs(t, err, domain.ErrConnectionNotFound)
	assert.True(t, apperrors.IsType(err, apperrors.TypeNotFound))
}

func TestService_Authenticate_OrganizationCapacity(t *testing.T) {
	svc, _, _ := newTestService(t, Options{MaxConnectionsPerOrg: 1})
	connect(t, svc, "s1", "acme")
	connect(t, svc, "s2", "")

	_, err := svc.Authenticate(context.Background(), "s2", domain.Identity{OrganizationID: "acme"})
	require.ErrorIs(t, err, domain.ErrOrgCapacity)
	assert.True(t, apperrors.IsType(err, apperrors.TypeValidation))

	// Another organization is unaffected.
	_, err = svc.Authenticate(context.Background(), "s2", domain.Identity{OrganizationID: "globex"})
	require.NoError(t, err)

	// Re-authenticating into the same organization does not count twice.
	_, err = svc.Authenticate(context.Background(), "s1", domain.Identity{UserID: "other", OrganizationID: "acme"})
	require.NoError(t, err)
}

func TestService_Authenticate_SwitchOrganization(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	connect(t, svc, "s1", "acme")

	conn, err := svc.Authenticate(context.Background(), "s1", domain.Identity{OrganizationID: "globex"})
	require.NoError(t, err)
	assert.Equal(t, []string{"organization:org:globex"}, conn.Rooms)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"globex": 1}, stats.Organizations)
}

func TestService_Subscribe(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	connect(t, svc, "s1", "acme")

	scope := domain.Scope{OrganizationID: "acme", DepartmentID: "support"}
	sub, err := svc.Subscribe(context.Background(), "s1", []string{"kpi", "alerts"}, scope)
	require.NoError(t, err)

	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, []string{"kpi", "alerts"}, sub.Channels)
	assert.Equal(t, []string{"kpi:org:acme:dept:support", "alerts:org:acme:dept:support"}, sub.Rooms)

	conn, err := svc.Connection(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"alerts:org:acme:dept:support",
		"kpi:org:acme:dept:support",
		"organization:org:acme",
	}, conn.Rooms)

	rooms, err := svc.ListRooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 3)
	assert.Equal(t, domain.RoomTypeDepartment, rooms[0].Type)
}

func TestService_Subscribe_Idempotent(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	connect(t, svc, "s1", "acme")
	scope := domain.Scope{OrganizationID: "acme"}

	_, err := svc.Subscribe(context.Background(), "s1", []string{"kpi"}, scope)
	require.NoError(t, err)
	_, err = svc.Subscribe(context.Background(), "s1", []string{"kpi"}, scope)
	require.NoError(t, err)

	rooms, err := svc.ListRooms(context.Background())
	require.NoError(t, err)
	for _, r := range rooms {
		assert.Equal(t, 1, r.Members, r.Key)
	}
}

func TestService_Subscribe_UnknownConnection(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})

	_, err := svc.Subscribe(context.Background(), "missing", []string{"kpi"}, domain.Scope{})
	require.ErrorIs(t, err, domain.ErrConnectionNotFound)
}

func TestService_Unsubscribe_MatchesChannelSegments(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	connect(t, svc, "s1", "acme")
	scope := domain.Scope{OrganizationID: "acme"}

	_, err := svc.Subscribe(context.Background(), "s1", []string{"kpi", "kpi_daily", "alerts"}, scope)
	require.NoError(t, err)

	left, err := svc.Unsubscribe(context.Background(), "s1", []string{"kpi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"kpi:org:acme"}, left)

	conn, err := svc.Connection(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alerts:org:acme", "kpi_daily:org:acme", "organization:org:acme"}, conn.Rooms)
}

func TestService_Unsubscribe_All(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	connect(t, svc, "s1", "acme")

	_, err := svc.Subscribe(context.Background(), "s1", []string{"kpi"}, domain.Scope{OrganizationID: "acme"})
	require.NoError(t, err)

	left, err := svc.Unsubscribe(context.Background(), "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"kpi:org:acme", "organization:org:acme"}, left)

	conn, err := svc.Connection(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, conn.Rooms)
}

func TestService_Broadcast_DeliversToRoomMembers(t *testing.T) {
	svc, _, m := newTestService(t, Options{})
	member := connect(t, svc, "s1", "acme")
	otherOrg := connect(t, svc, "s2", "globex")
	unsubscribed := connect(t, svc, "s3", "acme")

	for id, org := range map[string]string{"s1": "acme", "s2": "globex"} {
		_, err := svc.Subscribe(context.Background(), id, []string{domain.ChannelKPI}, domain.Scope{OrganizationID: org})
		require.NoError(t, err)
	}

	event := domain.KPIUpdate{
		Scope:        domain.Scope{OrganizationID: "acme"},
		ServiceLevel: 0.78,
		SLARisk:      domain.SLARisk{RiskLevel: domain.RiskLevelCritical},
	}
	delivery, err := svc.Broadcast(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, 1, delivery.Delivered)
	assert.Equal(t, "kpi:org:acme", delivery.Room)
	assert.Equal(t, domain.PriorityUrgent, delivery.Priority)
	assert.NotEmpty(t, delivery.MessageID)

	frames := member.messages(t)
	require.Len(t, frames, 1)
	assert.Equal(t, domain.FrameMessage, frames[0].Event)
	assert.Equal(t, delivery.MessageID, frames[0].Data.ID)
	assert.Equal(t, "kpi:update", frames[0].Data.Event)
	assert.Equal(t, "urgent", frames[0].Data.Priority)
	assert.Equal(t, "acme", frames[0].Data.OrganizationID)
	assert.JSONEq(t, `0.78`, string(mustField(t, frames[0].Data.Payload, "service_level")))

	assert.Empty(t, otherOrg.messages(t))
	assert.Empty(t, unsubscribed.messages(t))
	assert.InDelta(t, 1, testutil.ToFloat64(m.BroadcastsTotal.WithLabelValues("kpi:update", "urgent")), 0)
}

func mustField(t *testing.T, raw json.RawMessage, key string) json.RawMessage {
	t.Helper()
	var obj map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &obj))
	v, ok := obj[key]
	require.True(t, ok, "missing field %s", key)
	return v
}

func TestService_Broadcast_DepartmentScopeIsExact(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	orgWide := connect(t, svc, "s1", "acme")
	dept := connect(t, svc, "s2", "acme")

	_, err := svc.Subscribe(context.Background(), "s1", []string{"backlog"}, domain.Scope{OrganizationID: "acme"})
	require.NoError(t, err)
	_, err = svc.Subscribe(context.Background(), "s2", []string{"backlog"}, domain.Scope{OrganizationID: "acme", DepartmentID: "billing"})
	require.NoError(t, err)

	delivery, err := svc.Broadcast(context.Background(), domain.BacklogUpdate{
		Scope:        domain.Scope{OrganizationID: "acme", DepartmentID: "billing"},
		BacklogTrend: domain.TrendGrowing,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, delivery.Delivered)
	assert.Equal(t, domain.PriorityHigh, delivery.Priority)
	assert.Empty(t, orgWide.messages(t))
	assert.Len(t, dept.messages(t), 1)
}

func TestService_Broadcast_PreservesOrder(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	sender := connect(t, svc, "s1", "acme")
	_, err := svc.Subscribe(context.Background(), "s1", []string{domain.ChannelAlerts}, domain.Scope{OrganizationID: "acme"})
	require.NoError(t, err)

	var ids []string
	for i := range 100 {
		d, err := svc.Broadcast(context.Background(), domain.Alert{
			Scope:   domain.Scope{OrganizationID: "acme"},
			AlertID: fmt.Sprintf("a%d", i),
		})
		require.NoError(t, err)
		ids = append(ids, d.MessageID)
	}

	frames := sender.messages(t)
	require.Len(t, frames, 100)
	for i, f := range frames {
		assert.Equal(t, ids[i], f.Data.ID)
	}
}

func TestService_Broadcast_EmptyRoom(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})

	delivery, err := svc.Broadcast(context.Background(), domain.AttendanceUpdate{
		Scope:          domain.Scope{OrganizationID: "acme"},
		AttendanceRate: 0.95,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, delivery.Delivered)
	assert.Equal(t, domain.PriorityMedium, delivery.Priority)
}

func TestService_Broadcast_NilEvent(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})

	_, err := svc.Broadcast(context.Background(), nil)
	assert.True(t, apperrors.IsType(err, apperrors.TypeValidation))
}

func TestService_Broadcast_SystemNotice(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	anonymous := connect(t, svc, "s1", "")
	acme := connect(t, svc, "s2", "acme")
	globex := connect(t, svc, "s3", "globex")

	delivery, err := svc.Broadcast(context.Background(), domain.SystemNotice{Kind: domain.NoticeMaintenance, Message: "upgrade"})
	require.NoError(t, err)
	assert.Equal(t, 3, delivery.Delivered)
	assert.Empty(t, delivery.Room)

	delivery, err = svc.Broadcast(context.Background(), domain.SystemNotice{
		Scope:   domain.Scope{OrganizationID: "acme"},
		Kind:    domain.NoticeAnnouncement,
		Message: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, delivery.Delivered)
	assert.Equal(t, "organization:org:acme", delivery.Room)

	assert.Len(t, anonymous.messages(t), 1)
	assert.Len(t, acme.messages(t), 2)
	assert.Len(t, globex.messages(t), 1)
}

func TestService_Broadcast_EvictsSlowClient(t *testing.T) {
	svc, _, m := newTestService(t, Options{})
	healthy := connect(t, svc, "s1", "acme")
	slow := connect(t, svc, "s2", "acme")
	slow.mu.Lock()
	slow.full = true
	slow.mu.Unlock()

	delivery, err := svc.Broadcast(context.Background(), domain.SystemNotice{
		Scope:   domain.Scope{OrganizationID: "acme"},
		Kind:    domain.NoticeAnnouncement,
		Message: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, delivery.Delivered)
	assert.Len(t, healthy.messages(t), 1)

	closed, reason := slow.closeReason()
	assert.True(t, closed)
	assert.Equal(t, evictReason, reason)

	_, err = svc.Connection(context.Background(), "s2")
	require.ErrorIs(t, err, domain.ErrConnectionNotFound)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"acme": 1}, stats.Organizations)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SlowClientsEvicted), 0)
}

func TestService_BroadcastToAll(t *testing.T) {
	svc, clock, _ := newTestService(t, Options{})
	anonymous := connect(t, svc, "s1", "")
	authed := connect(t, svc, "s2", "acme")

	env := domain.NewEnvelope("m1", domain.SystemNotice{Kind: domain.NoticeAnnouncement, Message: "hi"}, clock.Now())
	delivered, err := svc.BroadcastToAll(context.Background(), env)
	require.NoError(t, err)

	assert.Equal(t, 2, delivered)
	assert.Len(t, anonymous.messages(t), 1)
	assert.Equal(t, "m1", authed.messages(t)[0].Data.ID)
}

func TestService_AnnounceShutdown(t *testing.T) {
	svc, _, m := newTestService(t, Options{})
	anonymous := connect(t, svc, "s1", "")
	authed := connect(t, svc, "s2", "acme")

	delivered, err := svc.AnnounceShutdown(context.Background(), 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	for _, sender := range []*fakeSender{anonymous, authed} {
		msgs := sender.messages(t)
		require.Len(t, msgs, 1)
		assert.Equal(t, "system:maintenance", msgs[0].Data.Event)

		var notice domain.SystemNotice
		require.NoError(t, json.Unmarshal(msgs[0].Data.Payload, &notice))
		assert.Equal(t, domain.NoticeMaintenance, notice.Kind)
		assert.Equal(t, "server_shutdown", notice.Reason)
		assert.Equal(t, 10, notice.DisconnectIn)
	}
	assert.InDelta(t, 2, testutil.ToFloat64(m.DeliveriesTotal), 0)
}

func TestService_AnnounceShutdown_Stopped(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	svc.Stop()

	_, err := svc.AnnounceShutdown(context.Background(), time.Second)
	require.ErrorIs(t, err, domain.ErrServiceStopped)
}

func TestService_SendToConnection(t *testing.T) {
	svc, clock, _ := newTestService(t, Options{})
	target := connect(t, svc, "s1", "acme")
	bystander := connect(t, svc, "s2", "acme")

	env := domain.NewAckEnvelope("m1", "client-7", clock.Now())
	ok, err := svc.SendToConnection(context.Background(), "s1", env)
	require.NoError(t, err)
	assert.True(t, ok)

	frames := target.messages(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "message:ack", frames[0].Data.Event)
	assert.Empty(t, bystander.messages(t))

	ok, err = svc.SendToConnection(context.Background(), "missing", env)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_Remove(t *testing.T) {
	svc, _, m := newTestService(t, Options{})
	connect(t, svc, "s1", "acme")
	_, err := svc.Subscribe(context.Background(), "s1", []string{"kpi"}, domain.Scope{OrganizationID: "acme"})
	require.NoError(t, err)

	conn, removed := svc.Remove(context.Background(), "s1")
	require.True(t, removed)
	assert.Equal(t, domain.StatusDisconnected, conn.Status)
	assert.Equal(t, []string{"kpi:org:acme", "organization:org:acme"}, conn.Rooms)

	_, removed = svc.Remove(context.Background(), "s1")
	assert.False(t, removed)

	rooms, err := svc.ListRooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	for _, r := range rooms {
		assert.Zero(t, r.Members)
	}

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Connections)
	assert.Empty(t, stats.Organizations)
	assert.InDelta(t, 0, testutil.ToFloat64(m.Connections.WithLabelValues("websocket")), 0)
}

func TestService_Touch(t *testing.T) {
	svc, clock, _ := newTestService(t, Options{})
	connect(t, svc, "s1", "")

	clock.Advance(time.Minute)
	svc.Touch("s1")
	svc.Touch("missing")

	conn, err := svc.Connection(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().UTC(), conn.LastActivity)
	assert.Equal(t, time.Minute, conn.LastActivity.Sub(conn.ConnectedAt))
}

func TestService_SweepEmpty(t *testing.T) {
	svc, _, m := newTestService(t, Options{})
	connect(t, svc, "s1", "acme")
	connect(t, svc, "s2", "acme")
	_, err := svc.Subscribe(context.Background(), "s1", []string{"kpi"}, domain.Scope{OrganizationID: "acme"})
	require.NoError(t, err)
	_, err = svc.EnsureRoom(context.Background(), "alerts:org:acme", domain.RoomTypeOrganization, "acme")
	require.NoError(t, err)

	_, removed := svc.Remove(context.Background(), "s1")
	require.True(t, removed)

	swept, err := svc.SweepEmpty(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, swept)

	rooms, err := svc.ListRooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "organization:org:acme", rooms[0].Key)
	assert.InDelta(t, 2, testutil.ToFloat64(m.RoomsSweptTotal), 0)
}

func TestService_EnsureRoom_KeepsMetadata(t *testing.T) {
	svc, clock, _ := newTestService(t, Options{})

	first, err := svc.EnsureRoom(context.Background(), "kpi", domain.RoomTypeChannel, "")
	require.NoError(t, err)
	clock.Advance(time.Hour)
	second, err := svc.EnsureRoom(context.Background(), "kpi", domain.RoomTypeQueue, "acme")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestService_EnsureRoom_RecreatesSweptRoom(t *testing.T) {
	svc, clock, _ := newTestService(t, Options{})
	ctx := context.Background()

	original, err := svc.EnsureRoom(ctx, "alerts:org:acme", domain.RoomTypeOrganization, "acme")
	require.NoError(t, err)
	swept, err := svc.SweepEmpty(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, swept)

	clock.Advance(time.Hour)
	recreated, err := svc.EnsureRoom(ctx, "alerts:org:acme", domain.RoomTypeOrganization, "acme")
	require.NoError(t, err)

	assert.Equal(t, clock.Now().UTC(), recreated.CreatedAt)
	assert.NotEqual(t, original.CreatedAt, recreated.CreatedAt)
	assert.Zero(t, recreated.Members)
}

func TestService_HousekeepingSweepsOnInterval(t *testing.T) {
	svc, clock, _ := newTestService(t, Options{RoomCleanupInterval: time.Minute})
	_, err := svc.EnsureRoom(context.Background(), "kpi:org:acme", domain.RoomTypeOrganization, "acme")
	require.NoError(t, err)

	clock.Advance(time.Minute)

	assert.Eventually(t, func() bool {
		rooms, err := svc.ListRooms(context.Background())
		return err == nil && len(rooms) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestService_Stop(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	sender := connect(t, svc, "s1", "acme")

	svc.Stop()
	svc.Stop()

	closed, reason := sender.closeReason()
	assert.True(t, closed)
	assert.Equal(t, "server shutting down", reason)

	_, err := svc.Stats(context.Background())
	require.ErrorIs(t, err, domain.ErrServiceStopped)
}

func TestService_PanicRecovery(t *testing.T) {
	svc, _, m := newTestService(t, Options{})
	bystander := connect(t, svc, "s1", "acme")
	faulty := connect(t, svc, "s2", "acme")
	faulty.onSend = func() { panic("boom") }

	_, err := svc.Broadcast(context.Background(), domain.SystemNotice{Kind: domain.NoticeAnnouncement, Message: "x"})
	require.ErrorIs(t, err, domain.ErrServiceStopped)

	closed, reason := bystander.closeReason()
	assert.True(t, closed)
	assert.Equal(t, "internal error", reason)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Panics), 0)
}

func TestService_ContextCanceled(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Connection(ctx, "s1")
	assert.Error(t, err)
}
