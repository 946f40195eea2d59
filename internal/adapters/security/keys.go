package security

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/ports"
)

const generatedKeyBytes = 32

// LoadOrCreateKey reads a base64 key from the secret store, generating and
// storing a new random one on first start.
func LoadOrCreateKey(ctx context.Context, store ports.SecretStore, name string) ([]byte, error) {
	raw, err := store.Get(ctx, name)
	switch {
	case err == nil:
		key, decodeErr := base64.StdEncoding.DecodeString(raw)
		if decodeErr != nil || len(key) < generatedKeyBytes {
			// Operator-provided passphrases are accepted verbatim when long enough.
			if len(raw) >= generatedKeyBytes {
				return []byte(raw), nil
			}
			return nil, fmt.Errorf("secret %s is not a %d-byte key", name, generatedKeyBytes)
		}
		return key, nil
	case errors.Is(err, domain.ErrSecretNotFound):
	default:
		return nil, fmt.Errorf("read secret %s: %w", name, err)
	}

	key := make([]byte, generatedKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate %s: %w", name, err)
	}
	if err := store.Put(ctx, name, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("store generated %s: %w", name, err)
	}
	return key, nil
}
