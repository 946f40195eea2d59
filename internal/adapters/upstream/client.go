package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/ports"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/resilience"
)

// Tier selects the per-attempt deadline.
type Tier int

const (
	TierMetadata Tier = iota
	TierDownload
)

// maxMetadataBytes bounds JSON bodies read into memory.
const maxMetadataBytes = 16 << 20

type Config struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	Backoff         float64
	JitterMin       time.Duration
	JitterMax       time.Duration
	MetadataTimeout time.Duration
	DownloadTimeout time.Duration
	MaxConcurrent   int64
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		BaseDelay:       time.Second,
		Backoff:         2,
		JitterMin:       100 * time.Millisecond,
		JitterMax:       500 * time.Millisecond,
		MetadataTimeout: 30 * time.Second,
		DownloadTimeout: 60 * time.Second,
		MaxConcurrent:   10,
	}
}

// Request describes one logical upstream call. Endpoint and Params identify
// the call for caching; headers such as credentials are not part of the key.
type Request struct {
	Method   string
	URL      string
	Header   http.Header
	Endpoint string
	Params   map[string]string
	Tier     Tier
}

func (r Request) fingerprint() string {
	endpoint := r.Endpoint
	if endpoint == "" {
		endpoint = r.Method + " " + r.URL
	}
	return resilience.Fingerprint(endpoint, r.Params)
}

// Dependencies are the shared primitives a Client composes.
type Dependencies struct {
	Breaker *resilience.CircuitBreaker
	Cache   *resilience.ResponseCache
	Budget  *resilience.RetryBudget
	HTTP    *http.Client
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Client wraps every upstream call with the breaker, response cache, retry
// budget, and a concurrency bulkhead.
type Client struct {
	cfg      Config
	breaker  *resilience.CircuitBreaker
	cache    *resilience.ResponseCache
	budget   *resilience.RetryBudget
	http     *http.Client
	clock    clock.Clock
	logger   *slog.Logger
	bulkhead *semaphore.Weighted
	group    singleflight.Group
	outcomes *prometheus.CounterVec
}

func NewClient(cfg Config, deps Dependencies) *Client {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.JitterMax < cfg.JitterMin {
		cfg.JitterMax = cfg.JitterMin
	}
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = def.MetadataTimeout
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = def.DownloadTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if deps.HTTP == nil {
		deps.HTTP = &http.Client{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Breaker == nil {
		deps.Breaker = resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig(), deps.Clock)
	}
	if deps.Cache == nil {
		deps.Cache = resilience.NewResponseCache(resilience.DefaultCacheConfig(), deps.Clock)
	}
	if deps.Budget == nil {
		deps.Budget = resilience.NewRetryBudget(resilience.DefaultBudgetConfig(), deps.Clock)
	}
	return &Client{
		cfg:      cfg,
		breaker:  deps.Breaker,
		cache:    deps.Cache,
		budget:   deps.Budget,
		http:     deps.HTTP,
		clock:    deps.Clock,
		logger:   deps.Logger,
		bulkhead: semaphore.NewWeighted(cfg.MaxConcurrent),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "document_gateway",
			Subsystem: "upstream",
			Name:      "attempts_total",
			Help:      "Upstream call attempts by outcome.",
		}, []string{"tier", "outcome"}),
	}
}

// Collectors returns the client's Prometheus collectors for registration.
func (c *Client) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.outcomes,
		resilience.NewCollector("document_gateway", c.breaker, c.cache, c.budget),
	}
}

func (c *Client) Stats() ports.UpstreamStats {
	return ports.UpstreamStats{
		Breaker: c.breaker.Snapshot(),
		Cache:   c.cache.Stats(),
		Budget:  c.budget.Stats(),
	}
}

// Do performs a buffered call. Successful bodies are cached; while the breaker
// is open a cached body is returned with Fallback set. Identical concurrent
// calls share one execution, which runs detached from any single caller's
// cancellation; each caller still stops waiting when its own ctx is done.
func (c *Client) Do(ctx context.Context, req Request) Result {
	fp := req.fingerprint()
	ch := c.group.DoChan(fp, func() (any, error) {
		return c.do(context.WithoutCancel(ctx), req, fp), nil
	})
	select {
	case res := <-ch:
		return res.Val.(Result)
	case <-ctx.Done():
		return Result{
			BreakerState: c.breaker.State(),
			Failure:      &Failure{Kind: FailureGeneric, Err: ctx.Err()},
		}
	}
}

func (c *Client) do(ctx context.Context, req Request, fp string) Result {
	if !c.breaker.Allow() {
		return c.fallback(ctx, req, fp)
	}

	var last *Failure
	attempts := 0
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		attempts = attempt + 1
		body, status, failure := c.attemptBuffered(ctx, req)
		if failure == nil {
			c.breaker.RecordSuccess()
			c.cache.Set(fp, body)
			c.observe(req.Tier, "success")
			return Result{Body: body, StatusCode: status, Attempts: attempts, BreakerState: c.breaker.State()}
		}
		failure.Attempts = attempts
		c.observe(req.Tier, failure.Kind.String())
		if done := c.settleTerminal(ctx, req, failure); done {
			return Result{StatusCode: failure.StatusCode, Attempts: attempts, BreakerState: c.breaker.State(), Failure: failure}
		}
		last = failure
		if !c.retryAllowed(ctx, req, attempt, failure) {
			break
		}
	}
	return c.exhausted(ctx, req, last, attempts)
}

// Stream opens a download and hands the live response to the caller. The
// download deadline bounds connection and headers; the returned body is
// released by closing it.
func (c *Client) Stream(ctx context.Context, req Request) (*http.Response, *Failure) {
	if !c.breaker.Allow() {
		c.logDenied(ctx, req)
		return nil, &Failure{Kind: FailureUnavailable, Err: errors.New("circuit breaker open")}
	}
	req.Tier = TierDownload

	var last *Failure
	attempts := 0
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		attempts = attempt + 1
		resp, failure := c.attemptStream(ctx, req)
		if failure == nil {
			c.breaker.RecordSuccess()
			c.observe(req.Tier, "success")
			return resp, nil
		}
		failure.Attempts = attempts
		c.observe(req.Tier, failure.Kind.String())
		if done := c.settleTerminal(ctx, req, failure); done {
			return nil, failure
		}
		last = failure
		if !c.retryAllowed(ctx, req, attempt, failure) {
			break
		}
	}
	res := c.exhausted(ctx, req, last, attempts)
	return nil, res.Failure
}

// settleTerminal handles failures that end the loop immediately. Client
// errors release the probe lease without counting; auth errors count.
func (c *Client) settleTerminal(ctx context.Context, req Request, failure *Failure) bool {
	switch {
	case failure.Kind == FailureClient:
		c.breaker.Release()
		return true
	case failure.Kind == FailureAuth:
		c.breaker.RecordFailure()
		c.logger.WarnContext(ctx, "upstream rejected gateway credential",
			"module", "upstream",
			"layer", "adapter",
			"operation", "upstream_call",
			"outcome", "failure",
			"endpoint", req.Endpoint,
			"status_code", failure.StatusCode,
		)
		return true
	case !failure.retryable():
		c.breaker.Release()
		return true
	}
	return false
}

func (c *Client) retryAllowed(ctx context.Context, req Request, attempt int, failure *Failure) bool {
	if ctx.Err() != nil || attempt+1 >= c.cfg.MaxAttempts {
		return false
	}
	if !c.budget.TryAcquire() {
		c.logger.WarnContext(ctx, "retry budget exhausted",
			"module", "upstream",
			"layer", "adapter",
			"operation", "upstream_retry",
			"outcome", "skipped",
			"endpoint", req.Endpoint,
		)
		return false
	}
	delay := c.backoff(attempt)
	c.logger.InfoContext(ctx, "retrying upstream call",
		"module", "upstream",
		"layer", "adapter",
		"operation", "upstream_retry",
		"outcome", "retry",
		"endpoint", req.Endpoint,
		"attempt", attempt+1,
		"failure", failure.Kind.String(),
		"delay_ms", delay.Milliseconds(),
	)
	timer := c.clock.Timer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Client) exhausted(ctx context.Context, req Request, last *Failure, attempts int) Result {
	if last == nil {
		last = &Failure{Kind: FailureGeneric, Err: errors.New("no attempt made")}
	}
	if ctx.Err() != nil && last.Kind != FailureTimeout {
		// The caller went away; that says nothing about upstream health.
		c.breaker.Release()
		last = &Failure{Kind: FailureGeneric, Attempts: attempts, Err: ctx.Err()}
	} else {
		c.breaker.RecordFailure()
	}
	c.logger.ErrorContext(ctx, "upstream call failed",
		"module", "upstream",
		"layer", "adapter",
		"operation", "upstream_call",
		"outcome", "failure",
		"endpoint", req.Endpoint,
		"attempts", attempts,
		"failure", last.Kind.String(),
		"status_code", last.StatusCode,
		"breaker_state", c.breaker.State().String(),
	)
	return Result{StatusCode: last.StatusCode, Attempts: attempts, BreakerState: c.breaker.State(), Failure: last}
}

func (c *Client) fallback(ctx context.Context, req Request, fp string) Result {
	state := c.breaker.State()
	if body, ok := c.cache.Get(fp); ok {
		c.logger.WarnContext(ctx, "serving cached upstream response",
			"module", "upstream",
			"layer", "adapter",
			"operation", "upstream_fallback",
			"outcome", "cache_hit",
			"endpoint", req.Endpoint,
			"breaker_state", state.String(),
		)
		c.observe(req.Tier, "fallback")
		return Result{Body: body, StatusCode: http.StatusOK, Fallback: true, BreakerState: state}
	}
	c.logDenied(ctx, req)
	c.observe(req.Tier, FailureUnavailable.String())
	return Result{
		StatusCode:   http.StatusServiceUnavailable,
		BreakerState: state,
		Failure:      &Failure{Kind: FailureUnavailable, Err: errors.New("circuit breaker open and no cached response")},
	}
}

func (c *Client) logDenied(ctx context.Context, req Request) {
	c.logger.WarnContext(ctx, "upstream call denied by circuit breaker",
		"module", "upstream",
		"layer", "adapter",
		"operation", "upstream_call",
		"outcome", "denied",
		"endpoint", req.Endpoint,
	)
}

type attemptCtx struct {
	ctx      context.Context
	cancel   context.CancelFunc
	timer    *clock.Timer
	timedOut atomic.Bool
}

// newAttempt derives a context that is cancelled when the tier deadline fires.
func (c *Client) newAttempt(ctx context.Context, tier Tier) *attemptCtx {
	timeout := c.cfg.MetadataTimeout
	if tier == TierDownload {
		timeout = c.cfg.DownloadTimeout
	}
	a := &attemptCtx{}
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.timer = c.clock.AfterFunc(timeout, func() {
		a.timedOut.Store(true)
		a.cancel()
	})
	return a
}

func (a *attemptCtx) release() {
	a.timer.Stop()
	a.cancel()
}

func (c *Client) send(a *attemptCtx, req Request) (*http.Response, *Failure) {
	if err := c.bulkhead.Acquire(a.ctx, 1); err != nil {
		if a.timedOut.Load() {
			return nil, &Failure{Kind: FailureTimeout, Err: err}
		}
		return nil, &Failure{Kind: FailureGeneric, Err: fmt.Errorf("acquire bulkhead: %w", err)}
	}
	defer c.bulkhead.Release(1)

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(a.ctx, method, req.URL, nil)
	if err != nil {
		return nil, &Failure{Kind: FailureGeneric, Err: fmt.Errorf("build request: %w", err)}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if a.timedOut.Load() || errors.Is(err, context.DeadlineExceeded) {
			return nil, &Failure{Kind: FailureTimeout, Err: err}
		}
		return nil, &Failure{Kind: FailureUpstream, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		return nil, &Failure{Kind: classifyStatus(resp.StatusCode), StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func (c *Client) attemptBuffered(ctx context.Context, req Request) ([]byte, int, *Failure) {
	a := c.newAttempt(ctx, req.Tier)
	defer a.release()

	resp, failure := c.send(a, req)
	if failure != nil {
		return nil, 0, failure
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		if a.timedOut.Load() {
			return nil, 0, &Failure{Kind: FailureTimeout, Err: err}
		}
		return nil, 0, &Failure{Kind: FailureUpstream, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, resp.StatusCode, nil
}

func (c *Client) attemptStream(ctx context.Context, req Request) (*http.Response, *Failure) {
	a := c.newAttempt(ctx, req.Tier)
	resp, failure := c.send(a, req)
	if failure != nil {
		a.release()
		return nil, failure
	}
	// Headers arrived in time; the body is bounded by the caller's context.
	a.timer.Stop()
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: a.cancel}
	return resp, nil
}

type releasingBody struct {
	io.ReadCloser
	release context.CancelFunc
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}

// backoff is base * backoff^attempt plus uniform jitter.
func (c *Client) backoff(attempt int) time.Duration {
	d := time.Duration(float64(c.cfg.BaseDelay) * math.Pow(c.cfg.Backoff, float64(attempt)))
	if span := c.cfg.JitterMax - c.cfg.JitterMin; span > 0 {
		d += c.cfg.JitterMin + rand.N(span)
	} else {
		d += c.cfg.JitterMin
	}
	return d
}

func (c *Client) observe(tier Tier, outcome string) {
	name := "metadata"
	if tier == TierDownload {
		name = "download"
	}
	c.outcomes.WithLabelValues(name, outcome).Inc()
}
