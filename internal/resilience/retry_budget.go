package resilience

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type BudgetConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Window     time.Duration `yaml:"window"`
}

func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{MaxRetries: 100, Window: time.Hour}
}

type BudgetStats struct {
	Used        int
	MaxRetries  int
	Window      time.Duration
	Utilization float64
}

// RetryBudget is a process-wide quota on retries within a sliding window.
// One budget is shared by every upstream target.
type RetryBudget struct {
	mu      sync.Mutex
	cfg     BudgetConfig
	clock   clock.Clock
	retries []time.Time
}

func NewRetryBudget(cfg BudgetConfig, clk clock.Clock) *RetryBudget {
	def := DefaultBudgetConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if clk == nil {
		clk = clock.New()
	}
	return &RetryBudget{cfg: cfg, clock: clk}
}

// CanRetry reports whether a retry is available without spending it.
func (b *RetryBudget) CanRetry() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retries = prune(b.retries, b.clock.Now().Add(-b.cfg.Window))
	return len(b.retries) < b.cfg.MaxRetries
}

// RecordRetry spends one retry.
func (b *RetryBudget) RecordRetry() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retries = append(b.retries, b.clock.Now())
}

// TryAcquire checks and spends a retry in one critical section.
func (b *RetryBudget) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.retries = prune(b.retries, now.Add(-b.cfg.Window))
	if len(b.retries) >= b.cfg.MaxRetries {
		return false
	}
	b.retries = append(b.retries, now)
	return true
}

func (b *RetryBudget) Stats() BudgetStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retries = prune(b.retries, b.clock.Now().Add(-b.cfg.Window))
	used := len(b.retries)
	return BudgetStats{
		Used:        used,
		MaxRetries:  b.cfg.MaxRetries,
		Window:      b.cfg.Window,
		Utilization: float64(used) / float64(b.cfg.MaxRetries),
	}
}
