package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/resilience"
)

type fixture struct {
	client  *Client
	breaker *resilience.CircuitBreaker
	budget  *resilience.RetryBudget
	cache   *resilience.ResponseCache
	hits    *atomic.Int32
	status  *atomic.Int32
	server  *httptest.Server
}

func newFixture(t *testing.T, handler http.HandlerFunc) *fixture {
	t.Helper()
	clk := clock.New()
	f := &fixture{
		breaker: resilience.NewCircuitBreaker(resilience.BreakerConfig{FailureThreshold: 2, Timeout: time.Hour}, clk),
		budget:  resilience.NewRetryBudget(resilience.BudgetConfig{MaxRetries: 100, Window: time.Hour}, clk),
		cache:   resilience.NewResponseCache(resilience.CacheConfig{TTL: time.Hour, MaxSize: 10}, clk),
		hits:    &atomic.Int32{},
		status:  &atomic.Int32{},
	}
	f.status.Store(http.StatusOK)
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(int(f.status.Load()))
			_, _ = w.Write([]byte(`{"ok":true}`))
		}
	}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(f.server.Close)

	f.client = NewClient(Config{
		MaxAttempts:     3,
		BaseDelay:       time.Millisecond,
		Backoff:         2,
		MetadataTimeout: 100 * time.Millisecond,
		DownloadTimeout: 100 * time.Millisecond,
		MaxConcurrent:   4,
	}, Dependencies{
		Breaker: f.breaker,
		Cache:   f.cache,
		Budget:  f.budget,
		HTTP:    f.server.Client(),
		Clock:   clk,
	})
	return f
}

func (f *fixture) request() Request {
	return Request{URL: f.server.URL + "/docs", Endpoint: "docs", Params: map[string]string{"id": "1"}}
}

func TestDoSuccessPopulatesCache(t *testing.T) {
	f := newFixture(t, nil)

	res := f.client.Do(context.Background(), f.request())
	require.True(t, res.OK())
	assert.False(t, res.Fallback)
	assert.Equal(t, `{"ok":true}`, string(res.Body))
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, f.cache.Stats().Size)
}

func TestDoRetriesServerErrorsThenTripsBreaker(t *testing.T) {
	f := newFixture(t, nil)
	f.status.Store(http.StatusBadGateway)

	res := f.client.Do(context.Background(), f.request())
	require.False(t, res.OK())
	assert.Equal(t, FailureUpstream, res.Failure.Kind)
	assert.Equal(t, http.StatusBadGateway, res.Failure.StatusCode)
	assert.Equal(t, 3, res.Attempts)
	assert.EqualValues(t, 3, f.hits.Load())
	assert.Equal(t, 2, f.budget.Stats().Used)
	assert.Equal(t, 1, f.breaker.Snapshot().FailureCount, "one logical call is one breaker failure")
	assert.ErrorIs(t, res.Err(), domain.ErrUpstream)

	f.client.Do(context.Background(), f.request())
	assert.Equal(t, resilience.StateOpen, f.breaker.State())
}

func TestDoClientErrorShortCircuits(t *testing.T) {
	f := newFixture(t, nil)
	f.status.Store(http.StatusNotFound)

	res := f.client.Do(context.Background(), f.request())
	require.False(t, res.OK())
	assert.Equal(t, FailureClient, res.Failure.Kind)
	assert.EqualValues(t, 1, f.hits.Load())
	assert.Zero(t, f.budget.Stats().Used)
	assert.Zero(t, f.breaker.Snapshot().FailureCount)
	assert.ErrorIs(t, res.Err(), domain.ErrNotFound)
}

func TestDoAuthFailureIsNotRetriedButCounts(t *testing.T) {
	f := newFixture(t, nil)
	f.status.Store(http.StatusForbidden)

	res := f.client.Do(context.Background(), f.request())
	require.False(t, res.OK())
	assert.Equal(t, FailureAuth, res.Failure.Kind)
	assert.EqualValues(t, 1, f.hits.Load())
	assert.Equal(t, 1, f.breaker.Snapshot().FailureCount)
	assert.ErrorIs(t, res.Err(), domain.ErrUpstreamAuth)
}

func TestDoTimeoutIsTyped(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	res := f.client.Do(context.Background(), f.request())
	require.False(t, res.OK())
	assert.Equal(t, FailureTimeout, res.Failure.Kind)
	assert.ErrorIs(t, res.Err(), domain.ErrUpstreamTimeout)
}

func TestDoServesCacheWhileOpen(t *testing.T) {
	f := newFixture(t, nil)
	require.True(t, f.client.Do(context.Background(), f.request()).OK())

	f.breaker.RecordFailure()
	f.breaker.RecordFailure()
	require.Equal(t, resilience.StateOpen, f.breaker.State())
	before := f.hits.Load()

	res := f.client.Do(context.Background(), f.request())
	require.True(t, res.OK())
	assert.True(t, res.Fallback)
	assert.Equal(t, resilience.StateOpen, res.BreakerState)
	assert.Equal(t, before, f.hits.Load(), "upstream must not be contacted")
}

func TestDoUnavailableWithoutCache(t *testing.T) {
	f := newFixture(t, nil)
	f.breaker.RecordFailure()
	f.breaker.RecordFailure()

	res := f.client.Do(context.Background(), f.request())
	require.False(t, res.OK())
	assert.Equal(t, FailureUnavailable, res.Failure.Kind)
	assert.Zero(t, f.hits.Load())
	assert.ErrorIs(t, res.Err(), domain.ErrUnavailable)
}

func TestDoStopsRetryingWhenBudgetExhausted(t *testing.T) {
	f := newFixture(t, nil)
	f.status.Store(http.StatusInternalServerError)
	for f.budget.TryAcquire() {
	}

	res := f.client.Do(context.Background(), f.request())
	require.False(t, res.OK())
	assert.Equal(t, 1, res.Attempts)
	assert.EqualValues(t, 1, f.hits.Load())
}

func TestDoRecoversOnRetry(t *testing.T) {
	var n atomic.Int32
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	res := f.client.Do(context.Background(), f.request())
	require.True(t, res.OK())
	assert.Equal(t, 2, res.Attempts)
	assert.Zero(t, f.breaker.Snapshot().FailureCount)
}

func TestDoSharedCallSurvivesFirstCallerCancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(started) })
		select {
		case <-release:
			_, _ = w.Write([]byte(`{"shared":true}`))
		case <-r.Context().Done():
		}
	})
	f.client = NewClient(Config{
		MaxAttempts:     1,
		MetadataTimeout: 5 * time.Second,
		MaxConcurrent:   4,
	}, Dependencies{Breaker: f.breaker, Cache: f.cache, Budget: f.budget, HTTP: f.server.Client()})

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	resA := make(chan Result, 1)
	go func() { resA <- f.client.Do(ctxA, f.request()) }()
	<-started

	resB := make(chan Result, 1)
	go func() { resB <- f.client.Do(context.Background(), f.request()) }()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	a := <-resA
	require.False(t, a.OK())
	assert.ErrorIs(t, a.Err(), context.Canceled)

	close(release)
	b := <-resB
	require.True(t, b.OK(), "coalesced caller must not inherit another caller's cancellation")
	assert.Equal(t, `{"shared":true}`, string(b.Body))
	assert.EqualValues(t, 1, f.hits.Load())
	assert.Equal(t, resilience.StateClosed, f.breaker.State())
	assert.Zero(t, f.breaker.Snapshot().FailureCount)
}

func TestStreamReturnsLiveBody(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/pdf", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7"))
	})

	resp, failure := f.client.Stream(context.Background(), Request{
		URL:    f.server.URL + "/file.pdf",
		Header: http.Header{"Accept": []string{"application/pdf"}},
	})
	require.Nil(t, failure)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(body))
	assert.Zero(t, f.cache.Stats().Size, "streams are never cached")
}

func TestStreamDeniedWhileOpen(t *testing.T) {
	f := newFixture(t, nil)
	f.breaker.RecordFailure()
	f.breaker.RecordFailure()

	_, failure := f.client.Stream(context.Background(), f.request())
	require.NotNil(t, failure)
	assert.Equal(t, FailureUnavailable, failure.Kind)
	assert.True(t, errors.Is(failure, domain.ErrUnavailable))
}

func TestBackoffGrowsExponentially(t *testing.T) {
	c := NewClient(Config{BaseDelay: time.Second, Backoff: 2, JitterMin: 100 * time.Millisecond, JitterMax: 500 * time.Millisecond}, Dependencies{})
	for attempt, base := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		d := c.backoff(attempt)
		assert.GreaterOrEqual(t, d, base+100*time.Millisecond)
		assert.Less(t, d, base+500*time.Millisecond)
	}
}
