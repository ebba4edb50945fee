package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	routingKey string
	event      any
	headers    map[string]string
}

func (p *capturePublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	p.routingKey = routingKey
	p.event = event
	p.headers = headers
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func TestAuditEmitterBuildsEnvelope(t *testing.T) {
	pub := &capturePublisher{}
	emitter := NewAuditEmitter(pub, "audit.pairchat", "pairchat", "test")
	emitter.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	emitter.Emit(context.Background(), LevelWarn, "forbidden delete", "req-9", 42)

	assert.Equal(t, "audit.pairchat", pub.routingKey)
	envelope, ok := pub.event.(AuditEnvelope)
	require.True(t, ok)
	assert.Equal(t, "audit_log", envelope.EventType)
	assert.Equal(t, "2024-05-01T12:00:00Z", envelope.OccurredAt)
	require.NotNil(t, envelope.UserID)
	assert.Equal(t, "42", *envelope.UserID)
	assert.Equal(t, AuditPayload{Level: LevelWarn, Text: "forbidden delete"}, envelope.Payload)
	assert.Equal(t, "req-9", pub.headers["x-request-id"])
}

func TestAuditEmitterOmitsAnonymousUser(t *testing.T) {
	pub := &capturePublisher{}
	NewAuditEmitter(pub, "audit.pairchat", "pairchat", "test").Emit(context.Background(), LevelInfo, "login failed", "", 0)

	envelope := pub.event.(AuditEnvelope)
	assert.Nil(t, envelope.UserID)
	assert.Empty(t, pub.headers)
}

func TestNilAuditEmitterIsSafe(t *testing.T) {
	var emitter *AuditEmitter
	emitter.Emit(context.Background(), LevelInfo, "noop", "", 1)
}
