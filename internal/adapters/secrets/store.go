package secrets

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/ports"
)

// EnvStore reads secrets from environment variables. It is read-only.
type EnvStore struct {
	lookup func(string) (string, bool)
}

func NewEnvStore() *EnvStore {
	return &EnvStore{lookup: os.LookupEnv}
}

func (s *EnvStore) Get(_ context.Context, name string) (string, error) {
	if v, ok := s.lookup(name); ok && v != "" {
		return v, nil
	}
	return "", domain.ErrSecretNotFound
}

func (s *EnvStore) Put(context.Context, string, string) error {
	return domain.ErrReadOnly
}

// Chain reads from each store in order and writes to the first store that
// accepts the write.
type Chain struct {
	stores []ports.SecretStore
}

func NewChain(stores ...ports.SecretStore) *Chain {
	return &Chain{stores: stores}
}

func (c *Chain) Get(ctx context.Context, name string) (string, error) {
	for _, s := range c.stores {
		v, err := s.Get(ctx, name)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, domain.ErrSecretNotFound) {
			return "", err
		}
	}
	return "", domain.ErrSecretNotFound
}

func (c *Chain) Put(ctx context.Context, name, value string) error {
	for _, s := range c.stores {
		err := s.Put(ctx, name, value)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrReadOnly) {
			return err
		}
	}
	return domain.ErrReadOnly
}

// Cached memoizes successful reads for ttl so hot paths do not hit the OS
// keystore on every request.
type Cached struct {
	next  ports.SecretStore
	cache *expirable.LRU[string, string]
}

func NewCached(next ports.SecretStore, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 32
	}
	return &Cached{next: next, cache: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (c *Cached) Get(ctx context.Context, name string) (string, error) {
	if v, ok := c.cache.Get(name); ok {
		return v, nil
	}
	v, err := c.next.Get(ctx, name)
	if err != nil {
		return "", err
	}
	c.cache.Add(name, v)
	return v, nil
}

func (c *Cached) Put(ctx context.Context, name, value string) error {
	if err := c.next.Put(ctx, name, value); err != nil {
		return err
	}
	c.cache.Add(name, value)
	return nil
}
