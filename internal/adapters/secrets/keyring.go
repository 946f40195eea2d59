package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
)

// KeyringStore uses the operating system keystore: Keychain on macOS,
// Credential Manager on Windows, and the Secret Service on Linux desktops.
type KeyringStore struct {
	service string
}

func NewKeyringStore(service string) *KeyringStore {
	return &KeyringStore{service: service}
}

func (s *KeyringStore) Get(_ context.Context, name string) (string, error) {
	value, err := keyring.Get(s.service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", domain.ErrSecretNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keyring get %s: %w", name, err)
	}
	return value, nil
}

func (s *KeyringStore) Put(_ context.Context, name, value string) error {
	if err := keyring.Set(s.service, name, value); err != nil {
		return fmt.Errorf("keyring set %s: %w", name, err)
	}
	return nil
}

// Available probes whether the OS keystore can be reached from this process.
func (s *KeyringStore) Available() bool {
	_, err := keyring.Get(s.service, "__m62_probe__")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}
