package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/ports"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/resilience"
)

type recordingPublisher struct {
	mu       sync.Mutex
	failures int
	calls    int
	types    []string
	keys     []string
	payloads [][]byte
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, payload []byte, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.types = append(p.types, eventType)
	p.keys = append(p.keys, key)
	p.payloads = append(p.payloads, payload)
	return nil
}

func TestAuditQueueDeliversEnvelope(t *testing.T) {
	pub := &recordingPublisher{}
	clk := clock.NewMock()
	q := NewAuditQueue(nil, pub, clk, AuditQueueConfig{})

	q.Record(context.Background(), ports.AuditEvent{
		Type:      AuditDownloadAccess,
		RequestID: "req-1",
		ClientIP:  "127.0.0.1",
		Fields:    map[string]any{"document_id": "D1"},
	})
	q.deliver(context.Background(), <-q.queue)

	require.Len(t, pub.payloads, 1)
	assert.Equal(t, "audit.download_access", pub.types[0])
	assert.Equal(t, "127.0.0.1", pub.keys[0])
	var env map[string]any
	require.NoError(t, json.Unmarshal(pub.payloads[0], &env))
	assert.Equal(t, "req-1", env["request_id"])
	assert.NotEmpty(t, env["event_id"])
	assert.Equal(t, float64(1), testutil.ToFloat64(q.outcomes.WithLabelValues(AuditDownloadAccess, "published")))
}

func TestAuditQueueRetriesThenSucceeds(t *testing.T) {
	pub := &recordingPublisher{failures: 1}
	q := NewAuditQueue(nil, pub, clock.New(), AuditQueueConfig{RetryDelay: time.Millisecond})
	q.deliver(context.Background(), auditEnvelope{Type: AuditAuthFailure})
	assert.Equal(t, 2, pub.calls)
	assert.Len(t, pub.payloads, 1)
	assert.Equal(t, AuditAuthFailure, pub.keys[0])
}

func TestAuditQueueGivesUpAfterMaxRetries(t *testing.T) {
	pub := &recordingPublisher{failures: 10}
	q := NewAuditQueue(nil, pub, clock.New(), AuditQueueConfig{MaxRetries: 2, RetryDelay: time.Millisecond})
	q.deliver(context.Background(), auditEnvelope{Type: AuditAuthFailure})
	assert.Equal(t, 2, pub.calls)
	assert.Equal(t, float64(1), testutil.ToFloat64(q.outcomes.WithLabelValues(AuditAuthFailure, "failed")))
}

func TestAuditQueueDropsWhenFull(t *testing.T) {
	q := NewAuditQueue(nil, &recordingPublisher{}, clock.NewMock(), AuditQueueConfig{Buffer: 1})
	q.Record(context.Background(), ports.AuditEvent{Type: AuditRateLimitViolation})
	q.Record(context.Background(), ports.AuditEvent{Type: AuditRateLimitViolation})
	assert.Len(t, q.queue, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(q.outcomes.WithLabelValues(AuditRateLimitViolation, "dropped")))
}

func TestAuditQueueRunDrainsOnShutdown(t *testing.T) {
	pub := &recordingPublisher{}
	q := NewAuditQueue(nil, pub, clock.New(), AuditQueueConfig{})
	q.Record(context.Background(), ports.AuditEvent{Type: AuditValidationError})
	q.Record(context.Background(), ports.AuditEvent{Type: AuditDocumentRegistered})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := q.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Len(t, pub.payloads, 2)
}

func TestKafkaPublisherTopicMapping(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "", nil)
	assert.Error(t, err)

	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "", map[string]string{"audit.auth_failure": "security.auth"})
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "security.auth", p.topicFor("audit.auth_failure"))
	assert.Equal(t, DefaultAuditTopic, p.topicFor("audit.download_access"))
}

func TestSweepWorkerPrunesLimiter(t *testing.T) {
	clk := clock.NewMock()
	limiter := resilience.NewRateLimiter(resilience.LimiterConfig{MaxRequests: 2, Window: time.Second}, clk)
	limiter.Allow("10.0.0.1")
	clk.Add(2 * time.Second)

	w := NewSweepWorker(nil, nil, limiter, time.Minute)
	w.sweepOnce(context.Background())
	assert.Equal(t, 2, limiter.Remaining("10.0.0.1"))
}
