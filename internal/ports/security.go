package ports

import (
	"context"
	"time"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
)

// SecretStore reads and writes named secrets from a platform keystore.
type SecretStore interface {
	// Get returns domain.ErrSecretNotFound when the name is not stored.
	Get(ctx context.Context, name string) (string, error)
	Put(ctx context.Context, name, value string) error
}

// TokenAuthority mints and verifies capability tokens.
type TokenAuthority interface {
	Create(service, binding string, ttl time.Duration, metadata map[string]string) (string, error)
	// Validate checks signature, expiry, and the optional service/binding filters.
	// Empty filters are not checked.
	Validate(token, expectedService, expectedBinding string) (domain.TokenPayload, bool)
}

// Sealer encrypts small records with the gateway's own key.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}
