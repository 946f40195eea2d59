// Package application implements the gateway's use cases: secure links, the
// document registry, download routing, and health reporting.
package application

import (
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/ports"
)

type Service struct {
	cfg        Config
	links      ports.LinkRepository
	documents  ports.DocumentRepository
	tokens     ports.TokenAuthority
	linkSealer ports.Sealer
	credSealer ports.Sealer
	secrets    ports.SecretStore
	locator    ports.FilingLocator
	fetcher    ports.DocumentFetcher
	monitor    ports.UpstreamMonitor
	clock      clock.Clock
	logger     *slog.Logger
}

type Dependencies struct {
	Config     Config
	Links      ports.LinkRepository
	Documents  ports.DocumentRepository
	Tokens     ports.TokenAuthority
	LinkSealer ports.Sealer
	CredSealer ports.Sealer
	Secrets    ports.SecretStore
	Locator    ports.FilingLocator
	Fetcher    ports.DocumentFetcher
	Monitor    ports.UpstreamMonitor
	Clock      clock.Clock
	Logger     *slog.Logger
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = 7 * 24 * time.Hour
	}
	if cfg.RegistryTTL <= 0 {
		cfg.RegistryTTL = 7 * 24 * time.Hour
	}
	if cfg.UpstreamDomain == "" {
		cfg.UpstreamDomain = "uspto.gov"
	}
	if cfg.CredentialSecret == "" {
		cfg.CredentialSecret = "USPTO_API_KEY"
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:        cfg,
		links:      deps.Links,
		documents:  deps.Documents,
		tokens:     deps.Tokens,
		linkSealer: deps.LinkSealer,
		credSealer: deps.CredSealer,
		secrets:    deps.Secrets,
		locator:    deps.Locator,
		fetcher:    deps.Fetcher,
		monitor:    deps.Monitor,
		clock:      clk,
		logger:     logger,
	}
}

func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}
