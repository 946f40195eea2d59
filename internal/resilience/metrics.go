package resilience

import "github.com/prometheus/client_golang/prometheus"

// Collector exports breaker, cache, and budget state as Prometheus gauges.
type Collector struct {
	breaker *CircuitBreaker
	cache   *ResponseCache
	budget  *RetryBudget

	breakerState *prometheus.Desc
	failures     *prometheus.Desc
	cacheSize    *prometheus.Desc
	budgetUsed   *prometheus.Desc
	budgetMax    *prometheus.Desc
}

// NewCollector builds a collector over the given primitives.
func NewCollector(namespace string, breaker *CircuitBreaker, cache *ResponseCache, budget *RetryBudget) *Collector {
	return &Collector{
		breaker: breaker,
		cache:   cache,
		budget:  budget,
		breakerState: prometheus.NewDesc(prometheus.BuildFQName(namespace, "circuit_breaker", "state"),
			"Circuit breaker state (0 closed, 1 open, 2 half open).", nil, nil),
		failures: prometheus.NewDesc(prometheus.BuildFQName(namespace, "circuit_breaker", "failures"),
			"Consecutive upstream failures counted by the breaker.", nil, nil),
		cacheSize: prometheus.NewDesc(prometheus.BuildFQName(namespace, "response_cache", "entries"),
			"Entries held in the upstream response cache.", nil, nil),
		budgetUsed: prometheus.NewDesc(prometheus.BuildFQName(namespace, "retry_budget", "used"),
			"Retries spent in the current budget window.", nil, nil),
		budgetMax: prometheus.NewDesc(prometheus.BuildFQName(namespace, "retry_budget", "max"),
			"Retries allowed per budget window.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.breakerState
	ch <- c.failures
	ch <- c.cacheSize
	ch <- c.budgetUsed
	ch <- c.budgetMax
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.breaker.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.breakerState, prometheus.GaugeValue, float64(snap.State))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.GaugeValue, float64(snap.FailureCount))
	ch <- prometheus.MustNewConstMetric(c.cacheSize, prometheus.GaugeValue, float64(c.cache.Stats().Size))
	budget := c.budget.Stats()
	ch <- prometheus.MustNewConstMetric(c.budgetUsed, prometheus.GaugeValue, float64(budget.Used))
	ch <- prometheus.MustNewConstMetric(c.budgetMax, prometheus.GaugeValue, float64(budget.MaxRetries))
}
