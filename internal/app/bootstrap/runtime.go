package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	badgerstore "github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/adapters/badger"
	cacheadapter "github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/adapters/cache"
	eventadapter "github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/adapters/events"
	httpadapter "github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/adapters/http"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/adapters/postgres"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/adapters/secrets"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/adapters/security"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/adapters/upstream"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/application"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/ports"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/resilience"
)

const keyringService = "m62-document-gateway"

type Runtime struct {
	cfg       Config
	logger    *slog.Logger
	service   *application.Service
	breaker   *resilience.CircuitBreaker
	limiter   *resilience.RateLimiter
	audit     *eventadapter.AuditQueue
	handler   *httpadapter.Handler
	registry  *prometheus.Registry
	badger    *badgerstore.DB
	cleanupFn func()
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if cfg.Development() {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	logger.Info("bootstrapping m62 document gateway",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"storage_backend", cfg.StorageBackend,
	)

	clk := clock.New()
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	store, backend, err := secrets.Open(secrets.Options{
		Backend:    cfg.SecretBackend,
		Service:    keyringService,
		Dir:        cfg.SecretDir,
		Passphrase: []byte(cfg.SecretPassphrase),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open secret store: %w", err)
	}
	tokenKey, err := security.LoadOrCreateKey(ctx, store, cfg.TokenKeySecret)
	if err != nil {
		return nil, fmt.Errorf("load token key: %w", err)
	}
	masterKey, err := security.LoadOrCreateKey(ctx, store, cfg.MasterKeySecret)
	if err != nil {
		return nil, fmt.Errorf("load master key: %w", err)
	}
	tokens, err := security.NewCapabilityTokens(tokenKey, clk)
	if err != nil {
		return nil, fmt.Errorf("init capability tokens: %w", err)
	}
	linkSealer, err := security.NewXSealer(masterKey, security.PurposeLinks)
	if err != nil {
		return nil, fmt.Errorf("init link sealer: %w", err)
	}
	credSealer, err := security.NewXSealer(masterKey, security.PurposeCredentials)
	if err != nil {
		return nil, fmt.Errorf("init credential sealer: %w", err)
	}
	logger.Info("gateway keys loaded", "secret_backend", backend)

	links, documents, bdb, storeClosers, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, storeClosers...)

	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Timeout:          cfg.BreakerTimeout,
	}, clk)
	responseCache := resilience.NewResponseCache(resilience.CacheConfig{
		TTL:     cfg.CacheTTL,
		MaxSize: cfg.CacheMaxSize,
	}, clk)
	budget := resilience.NewRetryBudget(resilience.BudgetConfig{
		MaxRetries: cfg.BudgetMaxRetries,
		Window:     cfg.BudgetWindow,
	}, clk)
	limiter := resilience.NewRateLimiter(resilience.LimiterConfig{
		MaxRequests: cfg.RateLimitRequests,
		Window:      cfg.RateLimitWindow,
	}, clk)

	upstreamCfg := upstream.DefaultConfig()
	upstreamCfg.MaxAttempts = cfg.MaxAttempts
	upstreamCfg.BaseDelay = cfg.BaseDelay
	upstreamCfg.MetadataTimeout = cfg.MetadataTimeout
	upstreamCfg.DownloadTimeout = cfg.DownloadTimeout
	upstreamCfg.MaxConcurrent = int64(cfg.MaxConcurrent)
	client := upstream.NewClient(upstreamCfg, upstream.Dependencies{
		Breaker: breaker,
		Cache:   responseCache,
		Budget:  budget,
		HTTP: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: int(cfg.MaxConcurrent),
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		Clock:  clk,
		Logger: logger,
	})
	filings := upstream.NewFilingClient(client, cfg.UpstreamBaseURL, logger)

	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			ServiceName:      cfg.ServiceID,
			PublicBaseURL:    cfg.PublicBaseURL,
			LinkTTL:          cfg.LinkTTL,
			RegistryTTL:      cfg.RegistryTTL,
			UpstreamDomain:   cfg.UpstreamDomain,
			CredentialSecret: cfg.CredentialSecret,
		},
		Links:      links,
		Documents:  documents,
		Tokens:     tokens,
		LinkSealer: linkSealer,
		CredSealer: credSealer,
		Secrets:    store,
		Locator:    filings,
		Fetcher:    filings,
		Monitor:    client,
		Clock:      clk,
		Logger:     logger,
	})

	publisher, closePublisher, err := newPublisher(cfg, logger)
	if err != nil {
		cleanup()
		return nil, err
	}
	closers = append(closers, closePublisher)
	audit := eventadapter.NewAuditQueue(logger, publisher, clk, eventadapter.AuditQueueConfig{
		Buffer:     cfg.AuditBuffer,
		MaxRetries: cfg.AuditMaxRetries,
	})

	handler := httpadapter.NewHandler(svc, limiter, audit, httpadapter.Config{
		Development:  cfg.Development(),
		MaxBodyBytes: cfg.MaxBodyBytes,
		AllowedIPs:   cfg.AllowedIPs,
		CORSOrigins:  cfg.CORSOrigins,
	}, clk)

	registry, err := newMetricsRegistry(client, handler, audit)
	if err != nil {
		cleanup()
		return nil, err
	}

	return &Runtime{
		cfg:       cfg,
		logger:    logger,
		service:   svc,
		breaker:   breaker,
		limiter:   limiter,
		audit:     audit,
		handler:   handler,
		registry:  registry,
		badger:    bdb,
		cleanupFn: cleanup,
	}, nil
}

// newMetricsRegistry registers process metrics plus the collectors owned by
// the upstream client (attempts, breaker, cache, budget), the HTTP handler and
// the audit queue.
func newMetricsRegistry(client *upstream.Client, handler *httpadapter.Handler, audit *eventadapter.AuditQueue) (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()
	cs := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		audit.Collector(),
	}
	cs = append(cs, client.Collectors()...)
	cs = append(cs, handler.Collectors()...)
	for _, c := range cs {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return registry, nil
}

// openStores selects link and registry repositories for the configured backend.
// The returned badger handle is nil when no embedded store is open.
func openStores(ctx context.Context, cfg Config, logger *slog.Logger) (ports.LinkRepository, ports.DocumentRepository, *badgerstore.DB, []func(), error) {
	switch cfg.StorageBackend {
	case StoragePostgres:
		db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns, logger)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := postgres.RunMigrations(ctx, db, logger); err != nil {
			_ = postgres.Close(db)
			return nil, nil, nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		repos := postgres.NewRepositories(db)
		return repos.Links, repos.Documents, nil, []func(){func() { _ = postgres.Close(db) }}, nil
	case StorageRedis:
		bdb, err := badgerstore.Open(badgerstore.Options{Path: cfg.BadgerPath}, logger)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		redisClient, err := cacheadapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			_ = bdb.Close()
			return nil, nil, nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		closers := []func(){
			func() { _ = bdb.Close() },
			func() { _ = redisClient.Close() },
		}
		return cacheadapter.NewRedisLinkStore(redisClient), badgerstore.NewDocumentRepository(bdb), bdb, closers, nil
	default:
		bdb, err := badgerstore.Open(badgerstore.Options{Path: cfg.BadgerPath}, logger)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		closers := []func(){func() { _ = bdb.Close() }}
		return badgerstore.NewLinkRepository(bdb), badgerstore.NewDocumentRepository(bdb), bdb, closers, nil
	}
}

func newPublisher(cfg Config, logger *slog.Logger) (ports.EventPublisher, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		return eventadapter.NewLoggingPublisher(logger), func() {}, nil
	}
	kp, err := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.AuditTopic, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("init kafka publisher: %w", err)
	}
	logger.Info("kafka audit publisher enabled", "brokers", cfg.KafkaBrokers)
	return kp, func() { _ = kp.Close() }, nil
}

// sweepsInProcess reports whether the API process owns the expiry sweeps.
// Embedded stores are locked by the API process, so only a postgres
// deployment hands sweeping to cmd/worker.
func (r *Runtime) sweepsInProcess() bool {
	return r.cfg.StorageBackend != StoragePostgres
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer r.cleanupFn()

	router := httpadapter.NewRouter(r.handler, r.registry)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", r.cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	r.breaker.OnTransition(func(from, to resilience.State) {
		status := healthpb.HealthCheckResponse_SERVING
		if to == resilience.StateOpen {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		healthSrv.SetServingStatus("", status)
		r.logger.Warn("upstream circuit breaker transition",
			"module", "bootstrap",
			"layer", "runtime",
			"operation", "breaker_transition",
			"outcome", to.String(),
			"from", from.String(),
		)
	})

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen gRPC: %w", err)
	}

	sweepTarget := r.service
	if !r.sweepsInProcess() {
		sweepTarget = nil
	}
	sweeper := eventadapter.NewSweepWorker(r.logger, sweepTarget, r.limiter, r.cfg.SweepInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		r.logger.Info("grpc server started", "addr", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return r.audit.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	if r.badger != nil {
		g.Go(func() error { return r.badger.RunGC(gctx, r.cfg.BadgerGC) })
	}
	g.Go(func() error {
		<-gctx.Done()
		r.logger.Info("shutdown signal received")
		healthSrv.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error("server failure", "error", err)
		return err
	}
	return nil
}

// RunWorker runs the link and registry expiry sweeps for deployments whose
// API processes share a postgres store.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer r.cleanupFn()

	if r.sweepsInProcess() {
		r.logger.Warn("sweep worker is redundant for embedded storage; the api process sweeps",
			"storage_backend", r.cfg.StorageBackend,
		)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.logger.Info("sweep worker started", "interval", r.cfg.SweepInterval.String())
		return eventadapter.NewSweepWorker(r.logger, r.service, nil, r.cfg.SweepInterval).Run(gctx)
	})
	if r.badger != nil {
		g.Go(func() error { return r.badger.RunGC(gctx, r.cfg.BadgerGC) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
