package resilience

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestRetryBudgetExhaustsAndRecovers(t *testing.T) {
	clk := clock.NewMock()
	b := NewRetryBudget(BudgetConfig{MaxRetries: 3, Window: time.Minute}, clk)

	for i := 0; i < 3; i++ {
		assert.True(t, b.CanRetry())
		b.RecordRetry()
	}
	assert.False(t, b.CanRetry())
	assert.InDelta(t, 1.0, b.Stats().Utilization, 1e-9)

	clk.Add(time.Minute)
	assert.True(t, b.CanRetry())
	assert.Equal(t, 0, b.Stats().Used)
}

func TestRetryBudgetTryAcquireIsAtomic(t *testing.T) {
	b := NewRetryBudget(BudgetConfig{MaxRetries: 10, Window: time.Hour}, clock.NewMock())

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.TryAcquire() {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, granted)
}

func TestRateLimiterAdmitsUpToMax(t *testing.T) {
	clk := clock.NewMock()
	l := NewRateLimiter(LimiterConfig{MaxRequests: 3, Window: 10 * time.Second}, clk)

	first := clk.Now()
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1"))
		clk.Add(time.Second)
	}
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"), "limits are per client")

	assert.Equal(t, 0, l.Remaining("10.0.0.1"))
	assert.Equal(t, first.Add(10*time.Second), l.ResetTime("10.0.0.1"))
	assert.Equal(t, 7*time.Second, l.RetryAfter("10.0.0.1"))
}

func TestRateLimiterWindowSlides(t *testing.T) {
	clk := clock.NewMock()
	l := NewRateLimiter(LimiterConfig{MaxRequests: 2, Window: 10 * time.Second}, clk)

	assert.True(t, l.Allow("c"))
	clk.Add(5 * time.Second)
	assert.True(t, l.Allow("c"))
	assert.False(t, l.Allow("c"))

	clk.Add(5 * time.Second)
	assert.Equal(t, 1, l.Remaining("c"))
	assert.True(t, l.Allow("c"))
}

func TestRateLimiterRetryAfterFloor(t *testing.T) {
	clk := clock.NewMock()
	l := NewRateLimiter(LimiterConfig{MaxRequests: 1, Window: time.Second}, clk)
	assert.True(t, l.Allow("c"))
	clk.Add(900 * time.Millisecond)
	assert.Equal(t, time.Second, l.RetryAfter("c"))
	assert.Equal(t, clk.Now(), l.ResetTime("unknown"))
}

func TestRateLimiterSweep(t *testing.T) {
	clk := clock.NewMock()
	l := NewRateLimiter(LimiterConfig{MaxRequests: 5, Window: time.Second}, clk)
	for i := 0; i < 4; i++ {
		l.Allow(fmt.Sprintf("c%d", i))
	}
	clk.Add(2 * time.Second)
	l.Allow("fresh")
	assert.Equal(t, 4, l.Sweep())
	assert.Equal(t, 4, l.Remaining("fresh"))
}
