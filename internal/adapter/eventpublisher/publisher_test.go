package eventpublisher

import (
	"context"
	"errors"
	"testing"

	"github.com/pscheid92/staffpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	name     string
	err      error
	payloads []string
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Publish(_ context.Context, payload []byte) error {
	if s.err != nil {
		return s.err
	}
	s.payloads = append(s.payloads, string(payload))
	return nil
}

func TestPublish_FansOutToAllSinks(t *testing.T) {
	redis, kafka := &fakeSink{name: "redis"}, &fakeSink{name: "kafka"}
	ep := New(redis, kafka)

	err := ep.Publish(context.Background(), domain.Alert{
		Scope:    domain.Scope{OrganizationID: "acme"},
		AlertID:  "a1",
		Severity: domain.SeverityCritical,
		Title:    "SLA breach",
		Message:  "Queue returns breached SLA",
	})

	require.NoError(t, err)
	require.Len(t, redis.payloads, 1)
	assert.Equal(t, redis.payloads, kafka.payloads)
	assert.Contains(t, redis.payloads[0], `"type":"alert:triggered"`)
}

func TestPublish_OneSinkFailing(t *testing.T) {
	redis := &fakeSink{name: "redis", err: errors.New("connection refused")}
	kafka := &fakeSink{name: "kafka"}
	ep := New(redis, kafka)

	err := ep.Publish(context.Background(), domain.SystemNotice{Kind: domain.NoticeAnnouncement, Message: "hello"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: connection refused")
	assert.Len(t, kafka.payloads, 1)
}

func TestPublish_NoSinks(t *testing.T) {
	err := New().Publish(context.Background(), domain.SystemNotice{Kind: domain.NoticeAnnouncement, Message: "hello"})

	require.EqualError(t, err, "no broker configured")
}

func TestPublishRaw_RejectsInvalidEvent(t *testing.T) {
	sink := &fakeSink{name: "redis"}

	err := New(sink).PublishRaw(context.Background(), []byte(`{"type":"kpi:update"}`))

	require.ErrorIs(t, err, domain.ErrMissingOrganization)
	assert.Empty(t, sink.payloads)
}
