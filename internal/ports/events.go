package ports

import "context"

type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

// AuditEvent is a security-relevant occurrence at the gateway edge.
type AuditEvent struct {
	Type      string         `json:"type"`
	RequestID string         `json:"request_id,omitempty"`
	ClientIP  string         `json:"client_ip,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Auditor records security events without blocking the request path.
type Auditor interface {
	Record(ctx context.Context, event AuditEvent)
}
