package resilience

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a CircuitBreaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// DefaultBreakerConfig trips after 3 failures and probes again after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 3, Timeout: 30 * time.Second}
}

// BreakerSnapshot is a point-in-time view for health and metrics.
type BreakerSnapshot struct {
	State            State
	FailureCount     int
	FailureThreshold int
	LastFailure      time.Time
	Timeout          time.Duration
	ProbeInFlight    bool
}

// CircuitBreaker gates calls to one upstream target.
//
// HALF_OPEN admits a single probe. The probe holder reports its outcome through
// RecordSuccess, RecordFailure, or Release; every other caller is denied until
// then. A probe lease older than Timeout is considered abandoned.
type CircuitBreaker struct {
	mu           sync.Mutex
	cfg          BreakerConfig
	clock        clock.Clock
	state        State
	failureCount int
	lastFailure  time.Time
	probeSince   time.Time
	probing      bool
	onTransition func(from, to State)
}

// NewCircuitBreaker constructs a breaker; a nil clock uses wall time.
func NewCircuitBreaker(cfg BreakerConfig, clk clock.Clock) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if clk == nil {
		clk = clock.New()
	}
	return &CircuitBreaker{cfg: cfg, clock: clk, state: StateClosed}
}

// OnTransition registers a hook called (under the breaker lock) on every state change.
func (b *CircuitBreaker) OnTransition(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransition = fn
}

// Allow reports whether a call may be attempted now.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.lastFailure) > b.cfg.Timeout {
			b.transition(StateHalfOpen)
			b.probing = true
			b.probeSince = now
			return true
		}
		return false
	case StateHalfOpen:
		if b.probing && now.Sub(b.probeSince) <= b.cfg.Timeout {
			return false
		}
		b.probing = true
		b.probeSince = now
		return true
	default:
		return false
	}
}

// RecordSuccess resets the failure count and closes a half-open breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.probing = false
	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
}

// RecordFailure counts an upstream-attributable failure.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailure = b.clock.Now()
	b.probing = false
	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
	case StateClosed:
		if b.failureCount >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	}
}

// Release returns a held probe lease without recording an outcome.
func (b *CircuitBreaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// State returns the current state without side effects.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:            b.state,
		FailureCount:     b.failureCount,
		FailureThreshold: b.cfg.FailureThreshold,
		LastFailure:      b.lastFailure,
		Timeout:          b.cfg.Timeout,
		ProbeInFlight:    b.probing,
	}
}

func (b *CircuitBreaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onTransition != nil {
		b.onTransition(from, to)
	}
}
