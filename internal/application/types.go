package application

import (
	"time"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
)

const DefaultServiceName = "M62-Document-Gateway"

type Config struct {
	ServiceName      string
	PublicBaseURL    string
	LinkTTL          time.Duration
	RegistryTTL      time.Duration
	UpstreamDomain   string
	CredentialSecret string
}

// RegisterRequest is a cross-service registration. Any credential the caller
// might hold is never accepted; the gateway's own credential is stored.
type RegisterRequest struct {
	Namespace         string
	OwnerID           string
	DocumentID        string
	FetchURL          string
	AuthToken         string
	DisplayName       string
	ApplicationNumber string
	PatentNumber      string
	DocumentType      string
}

type RegisterResult struct {
	URL        string           `json:"download_url"`
	Namespace  domain.Namespace `json:"namespace"`
	OwnerID    string           `json:"owner_id"`
	DocumentID string           `json:"document_id"`
	ExpiresAt  time.Time        `json:"expires_at"`
}

type IssueLinkRequest struct {
	AuthToken     string
	ResourceID    string
	SubResourceID string
}

type LinkStatsResult struct {
	domain.LinkStats
	TTLSeconds int64 `json:"ttl_seconds"`
}

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusExhausted = "exhausted"
)

type ComponentHealth struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

type HealthReport struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Service    string                     `json:"service"`
	Components map[string]ComponentHealth `json:"components"`
}

// Serving is false while the breaker is open or the retry budget is exhausted.
func (h HealthReport) Serving() bool {
	return h.Status != StatusUnhealthy
}
