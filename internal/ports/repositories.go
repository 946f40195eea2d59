package ports

import (
	"context"
	"time"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
)

// LinkRepository persists secure link records.
type LinkRepository interface {
	Create(ctx context.Context, rec domain.LinkRecord) error
	// Get returns domain.ErrNotFound when the handle is unknown.
	Get(ctx context.Context, handle string) (domain.LinkRecord, error)
	// Touch increments access_count by one and stamps last_accessed.
	Touch(ctx context.Context, handle string, at time.Time) (domain.LinkRecord, error)
	Delete(ctx context.Context, handle string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Stats(ctx context.Context, now time.Time) (domain.LinkStats, error)
	Ping(ctx context.Context) error
}

// DocumentRepository persists the cross-service document registry.
type DocumentRepository interface {
	// Upsert replaces any existing record with the same key.
	Upsert(ctx context.Context, rec domain.DocumentRecord) error
	Get(ctx context.Context, ns domain.Namespace, ownerID, documentID string) (domain.DocumentRecord, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Stats(ctx context.Context, ns domain.Namespace, now time.Time) (domain.RegistryStats, error)
}
