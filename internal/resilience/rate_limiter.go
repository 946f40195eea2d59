package resilience

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type LimiterConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{MaxRequests: 5, Window: 10 * time.Second}
}

// RateLimiter admits at most MaxRequests per client key within a sliding window.
type RateLimiter struct {
	mu       sync.Mutex
	cfg      LimiterConfig
	clock    clock.Clock
	requests map[string][]time.Time
}

func NewRateLimiter(cfg LimiterConfig, clk clock.Clock) *RateLimiter {
	def := DefaultLimiterConfig()
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if clk == nil {
		clk = clock.New()
	}
	return &RateLimiter{cfg: cfg, clock: clk, requests: make(map[string][]time.Time)}
}

func (l *RateLimiter) Config() LimiterConfig {
	return l.cfg
}

// Allow admits and records one request for key, or rejects it.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	reqs := prune(l.requests[key], now.Add(-l.cfg.Window))
	if len(reqs) >= l.cfg.MaxRequests {
		l.requests[key] = reqs
		return false
	}
	l.requests[key] = append(reqs, now)
	return true
}

// Remaining is the number of requests key may still make in the current window.
func (l *RateLimiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	reqs := l.pruned(key)
	if left := l.cfg.MaxRequests - len(reqs); left > 0 {
		return left
	}
	return 0
}

// ResetTime is when the oldest retained request leaves the window.
func (l *RateLimiter) ResetTime(key string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	reqs := l.pruned(key)
	if len(reqs) == 0 {
		return l.clock.Now()
	}
	return reqs[0].Add(l.cfg.Window)
}

// RetryAfter is the Retry-After value for key, never less than one second.
func (l *RateLimiter) RetryAfter(key string) time.Duration {
	wait := l.ResetTime(key).Sub(l.clock.Now())
	if wait < time.Second {
		return time.Second
	}
	return wait.Truncate(time.Second)
}

// Sweep forgets keys with no requests left in the window.
func (l *RateLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.clock.Now().Add(-l.cfg.Window)
	removed := 0
	for key, reqs := range l.requests {
		reqs = prune(reqs, cutoff)
		if len(reqs) == 0 {
			delete(l.requests, key)
			removed++
			continue
		}
		l.requests[key] = reqs
	}
	return removed
}

func (l *RateLimiter) pruned(key string) []time.Time {
	reqs, ok := l.requests[key]
	if !ok {
		return nil
	}
	reqs = prune(reqs, l.clock.Now().Add(-l.cfg.Window))
	l.requests[key] = reqs
	return reqs
}
