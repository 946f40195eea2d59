package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/ports"
)

// Audit event categories.
const (
	AuditAuthFailure        = "auth_failure"
	AuditRateLimitViolation = "rate_limit_violation"
	AuditValidationError    = "validation_error"
	AuditDownloadAccess     = "download_access"
	AuditDocumentRegistered = "document_registered"
)

type auditEnvelope struct {
	EventID   string         `json:"event_id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"request_id,omitempty"`
	ClientIP  string         `json:"client_ip,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

type AuditQueueConfig struct {
	Buffer     int
	MaxRetries int
	RetryDelay time.Duration
	DrainTime  time.Duration
}

// AuditQueue implements ports.Auditor. Record logs the event and hands it to
// a buffered channel; Run publishes from that channel. A full buffer drops
// the event after logging it.
type AuditQueue struct {
	logger    *slog.Logger
	publisher ports.EventPublisher
	clock     clock.Clock
	cfg       AuditQueueConfig
	queue     chan auditEnvelope
	outcomes  *prometheus.CounterVec
}

func NewAuditQueue(logger *slog.Logger, publisher ports.EventPublisher, clk clock.Clock, cfg AuditQueueConfig) *AuditQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	if cfg.DrainTime <= 0 {
		cfg.DrainTime = 5 * time.Second
	}
	return &AuditQueue{
		logger:    logger,
		publisher: publisher,
		clock:     clk,
		cfg:       cfg,
		queue:     make(chan auditEnvelope, cfg.Buffer),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "document_gateway_audit_events_total",
			Help: "Audit events by type and delivery outcome.",
		}, []string{"type", "outcome"}),
	}
}

func (q *AuditQueue) Collector() prometheus.Collector {
	return q.outcomes
}

func (q *AuditQueue) Record(ctx context.Context, event ports.AuditEvent) {
	env := auditEnvelope{
		EventID:   uuid.NewString(),
		Type:      event.Type,
		Timestamp: q.clock.Now().UTC(),
		RequestID: event.RequestID,
		ClientIP:  event.ClientIP,
		Fields:    event.Fields,
	}
	q.logger.WarnContext(ctx, "security event",
		"module", "events.audit",
		"layer", "adapter",
		"operation", "record_audit_event",
		"outcome", "recorded",
		"request_id", event.RequestID,
		"event_type", event.Type,
		"client_ip", event.ClientIP,
		"fields", event.Fields,
	)
	select {
	case q.queue <- env:
	default:
		q.outcomes.WithLabelValues(event.Type, "dropped").Inc()
		q.logger.ErrorContext(ctx, "audit queue full; event dropped",
			"module", "events.audit",
			"layer", "adapter",
			"operation", "record_audit_event",
			"outcome", "dropped",
			"event_type", event.Type,
		)
	}
}

// Run delivers queued events until ctx is done, then drains what is left
// within the configured drain time.
func (q *AuditQueue) Run(ctx context.Context) error {
	for {
		select {
		case env := <-q.queue:
			q.deliver(ctx, env)
		case <-ctx.Done():
			q.drain()
			return ctx.Err()
		}
	}
}

func (q *AuditQueue) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.DrainTime)
	defer cancel()
	for {
		select {
		case env := <-q.queue:
			q.deliver(ctx, env)
		default:
			return
		}
	}
}

func (q *AuditQueue) deliver(ctx context.Context, env auditEnvelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		q.outcomes.WithLabelValues(env.Type, "failed").Inc()
		return
	}
	key := env.ClientIP
	if key == "" {
		key = env.Type
	}
	for attempt := 1; attempt <= q.cfg.MaxRetries; attempt++ {
		err = q.publisher.Publish(ctx, "audit."+env.Type, payload, key)
		if err == nil {
			q.outcomes.WithLabelValues(env.Type, "published").Inc()
			return
		}
		if attempt == q.cfg.MaxRetries {
			break
		}
		q.logger.WarnContext(ctx, "audit publish failed; retry scheduled",
			"module", "events.audit",
			"layer", "adapter",
			"operation", "publish_audit_event",
			"outcome", "failure",
			"event_id", env.EventID,
			"event_type", env.Type,
			"retry_count", attempt,
			"error", err,
		)
		timer := q.clock.Timer(q.cfg.RetryDelay * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			q.outcomes.WithLabelValues(env.Type, "failed").Inc()
			return
		case <-timer.C:
		}
	}
	q.outcomes.WithLabelValues(env.Type, "failed").Inc()
	q.logger.ErrorContext(ctx, "audit event abandoned",
		"module", "events.audit",
		"layer", "adapter",
		"operation", "publish_audit_event",
		"outcome", "failure",
		"event_id", env.EventID,
		"event_type", env.Type,
		"error", err,
	)
}
