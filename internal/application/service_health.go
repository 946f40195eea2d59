package application

import (
	"context"
	"errors"
	"time"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/resilience"
)

const (
	budgetDegradedAt  = 0.80
	budgetExhaustedAt = 0.95
)

// Health reports every component. Overall status is unhealthy while the
// breaker is open, the retry budget is exhausted, or the link store does not
// answer.
func (s *Service) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:     StatusHealthy,
		Timestamp:  s.now(),
		Service:    s.cfg.ServiceName,
		Components: make(map[string]ComponentHealth, 5),
	}
	unhealthy, degraded := false, false

	if s.monitor != nil {
		stats := s.monitor.Stats()

		breaker := ComponentHealth{Status: StatusHealthy, Details: map[string]any{
			"state":             stats.Breaker.State.String(),
			"failure_count":     stats.Breaker.FailureCount,
			"failure_threshold": stats.Breaker.FailureThreshold,
			"timeout_seconds":   stats.Breaker.Timeout.Seconds(),
		}}
		switch stats.Breaker.State {
		case resilience.StateOpen:
			breaker.Status = StatusUnhealthy
			unhealthy = true
		case resilience.StateHalfOpen:
			breaker.Status = StatusDegraded
			degraded = true
		}
		report.Components["circuit_breaker"] = breaker

		report.Components["response_cache"] = ComponentHealth{Status: StatusHealthy, Details: map[string]any{
			"size":        stats.Cache.Size,
			"max_size":    stats.Cache.MaxSize,
			"ttl_seconds": stats.Cache.TTL.Seconds(),
			"utilization": stats.Cache.Utilization,
		}}

		budget := ComponentHealth{Status: StatusHealthy, Details: map[string]any{
			"used":           stats.Budget.Used,
			"max_retries":    stats.Budget.MaxRetries,
			"window_seconds": stats.Budget.Window.Seconds(),
			"utilization":    stats.Budget.Utilization,
		}}
		switch {
		case stats.Budget.Utilization >= budgetExhaustedAt:
			budget.Status = StatusExhausted
			unhealthy = true
		case stats.Budget.Utilization >= budgetDegradedAt:
			budget.Status = StatusDegraded
			degraded = true
		}
		report.Components["retry_budget"] = budget
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.links.Ping(pingCtx); err != nil {
		report.Components["link_store"] = ComponentHealth{Status: StatusUnhealthy, Details: map[string]any{"error": err.Error()}}
		unhealthy = true
	} else {
		report.Components["link_store"] = ComponentHealth{Status: StatusHealthy}
	}

	if _, err := s.gatewayCredential(ctx); err != nil {
		status := StatusUnhealthy
		if errors.Is(err, domain.ErrUnavailable) {
			status = StatusDegraded
			degraded = true
		} else {
			unhealthy = true
		}
		report.Components["secret_store"] = ComponentHealth{Status: status, Details: map[string]any{"credential": "missing"}}
	} else {
		report.Components["secret_store"] = ComponentHealth{Status: StatusHealthy, Details: map[string]any{"credential": "present"}}
	}

	switch {
	case unhealthy:
		report.Status = StatusUnhealthy
	case degraded:
		report.Status = StatusDegraded
	}
	return report
}

// Ready reports whether the link store answers.
func (s *Service) Ready(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.links.Ping(pingCtx)
}
