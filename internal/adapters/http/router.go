package http

import (
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/application"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/ports"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/resilience"
)

const defaultMaxBodyBytes = 1 << 20

type Config struct {
	Development  bool
	MaxBodyBytes int64
	// AllowedIPs restricts callers by peer address. Empty allows everyone.
	AllowedIPs  []string
	CORSOrigins []string
}

// Handler is the HTTP adapter for the gateway use cases.
type Handler struct {
	service  *application.Service
	limiter  *resilience.RateLimiter
	auditor  ports.Auditor
	clock    clock.Clock
	cfg      Config
	allowed  map[string]struct{}
	validate *validator.Validate
	metrics  *httpMetrics
}

func NewHandler(service *application.Service, limiter *resilience.RateLimiter, auditor ports.Auditor, cfg Config, clk clock.Clock) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	if clk == nil {
		clk = clock.New()
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedIPs))
	for _, ip := range cfg.AllowedIPs {
		allowed[ip] = struct{}{}
	}
	return &Handler{
		service:  service,
		limiter:  limiter,
		auditor:  auditor,
		clock:    clk,
		cfg:      cfg,
		allowed:  allowed,
		validate: newValidator(),
		metrics:  newHTTPMetrics(),
	}
}

// Collectors returns the HTTP metrics for registration.
func (h *Handler) Collectors() []prometheus.Collector {
	return h.metrics.collectors()
}

// NewRouter registers the gateway routes behind the middleware chain.
func NewRouter(handler *Handler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(handler.recoverMiddleware)
	r.Use(loggingMiddleware)
	r.Use(handler.metrics.middleware)
	r.Use(securityHeadersMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: handler.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Content-Disposition", "X-Request-Id", "X-Document-Source", "Retry-After"},
		MaxAge:         300,
	}))
	r.Use(handler.bodyLimitMiddleware)
	r.Use(handler.allowlistMiddleware)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		handler.writeError(w, req, http.StatusNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		handler.writeError(w, req, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	r.Get("/", handler.health)
	r.Get("/health", handler.health)
	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)
	r.Get("/cache/stats", handler.cacheStats)
	r.Post("/cache/cleanup", handler.cacheCleanup)
	r.Get("/rate-limit/{ip}", handler.rateLimitStatus)
	r.Get("/registry/{namespace}/stats", handler.registryStats)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(handler.rateLimitMiddleware)
		r.Get("/download/{id}/{sub_id}", handler.download)
		r.Get("/document/persistent/{handle}", handler.persistentDownload)
		r.Post("/register-document", handler.registerDocument)
		r.Post("/register-fpd-document", handler.registerNamespaced("fpd"))
		r.Post("/register-ptab-document", handler.registerNamespaced("ptab"))
		r.Post("/persistent-links", handler.issuePersistentLink)
	})

	return r
}
