package secrets

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/ports"
)

const (
	BackendAuto    = "auto"
	BackendKeyring = "keyring"
	BackendFile    = "file"
	BackendEnv     = "env"
)

type Options struct {
	Backend    string
	Service    string
	Dir        string
	Passphrase []byte
	CacheTTL   time.Duration
}

// Open selects the platform secret store. Environment variables always take
// precedence for reads so deployments can inject secrets without a keystore.
// The auto backend prefers the OS keystore and falls back to the file store.
func Open(opts Options, logger *slog.Logger) (ports.SecretStore, string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	if backend == "" {
		backend = BackendAuto
	}

	var primary ports.SecretStore
	switch backend {
	case BackendEnv:
	case BackendKeyring:
		primary = NewKeyringStore(opts.Service)
	case BackendFile:
		fs, err := NewFileStore(opts.Dir, opts.Passphrase)
		if err != nil {
			return nil, "", err
		}
		primary = fs
	case BackendAuto:
		if kr := NewKeyringStore(opts.Service); kr.Available() {
			primary = kr
			backend = BackendKeyring
			break
		}
		fs, err := NewFileStore(opts.Dir, opts.Passphrase)
		if err != nil {
			return nil, "", err
		}
		primary = fs
		backend = BackendFile
	default:
		return nil, "", fmt.Errorf("unknown secret backend %q", opts.Backend)
	}

	stores := []ports.SecretStore{NewEnvStore()}
	if primary != nil {
		stores = append(stores, primary)
	}
	logger.Info("secret store selected",
		"module", "secrets",
		"layer", "adapter",
		"operation", "open_secret_store",
		"outcome", "success",
		"backend", backend,
	)
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return NewCached(NewChain(stores...), 32, ttl), backend, nil
}
