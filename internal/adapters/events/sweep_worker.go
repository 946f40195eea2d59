package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/application"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/resilience"
)

// SweepWorker removes expired links and registry records and prunes idle
// rate-limit keys. Either target may be nil.
type SweepWorker struct {
	logger   *slog.Logger
	service  *application.Service
	limiter  *resilience.RateLimiter
	interval time.Duration
}

func NewSweepWorker(logger *slog.Logger, service *application.Service, limiter *resilience.RateLimiter, interval time.Duration) *SweepWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SweepWorker{
		logger:   logger,
		service:  service,
		limiter:  limiter,
		interval: interval,
	}
}

func (w *SweepWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *SweepWorker) sweepOnce(ctx context.Context) {
	var links, documents, keys int
	if w.service != nil {
		var err error
		if links, err = w.service.SweepLinks(ctx); err != nil {
			w.logFailure(ctx, "sweep_links", err)
		}
		if documents, err = w.service.SweepDocuments(ctx); err != nil {
			w.logFailure(ctx, "sweep_documents", err)
		}
	}
	if w.limiter != nil {
		keys = w.limiter.Sweep()
	}
	if links+documents+keys > 0 {
		w.logger.InfoContext(ctx, "sweep completed",
			"module", "events.sweep_worker",
			"layer", "adapter",
			"operation", "sweep_once",
			"outcome", "success",
			"links_removed", links,
			"documents_removed", documents,
			"limiter_keys_removed", keys,
		)
	}
}

func (w *SweepWorker) logFailure(ctx context.Context, operation string, err error) {
	w.logger.ErrorContext(ctx, "sweep iteration failed",
		"module", "events.sweep_worker",
		"layer", "adapter",
		"operation", operation,
		"outcome", "failure",
		"error", err,
	)
}
