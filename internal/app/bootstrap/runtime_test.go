package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eventadapter "github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/adapters/events"
	httpadapter "github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/adapters/http"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/adapters/upstream"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/resilience"
)

func metricNames(t *testing.T, registry *prometheus.Registry) []string {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	return names
}

func TestNewMetricsRegistryRegistersEachCollectorOnce(t *testing.T) {
	clk := clock.NewMock()
	client := upstream.NewClient(upstream.DefaultConfig(), upstream.Dependencies{Clock: clk})
	handler := httpadapter.NewHandler(nil, resilience.NewRateLimiter(resilience.DefaultLimiterConfig(), clk), nil, httpadapter.Config{}, clk)
	audit := eventadapter.NewAuditQueue(nil, eventadapter.NewLoggingPublisher(nil), clk, eventadapter.AuditQueueConfig{})

	var registry *prometheus.Registry
	require.NotPanics(t, func() {
		var err error
		registry, err = newMetricsRegistry(client, handler, audit)
		require.NoError(t, err)
	})

	names := metricNames(t, registry)
	assert.Contains(t, names, "document_gateway_circuit_breaker_state")
	assert.Contains(t, names, "document_gateway_retry_budget_max")
	assert.Contains(t, names, "go_goroutines")
}

func TestNewRuntimeWithEmbeddedStorage(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STORAGE_BACKEND", StorageBadger)
	t.Setenv("BADGER_PATH", filepath.Join(dir, "badger"))
	t.Setenv("SECRET_BACKEND", "file")
	t.Setenv("SECRET_DIR", filepath.Join(dir, "secrets"))
	t.Setenv("KAFKA_BROKERS", "")

	rt, err := NewRuntime(context.Background(), filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	t.Cleanup(rt.cleanupFn)

	require.NotNil(t, rt.badger)
	assert.True(t, rt.sweepsInProcess())
	assert.Contains(t, metricNames(t, rt.registry), "document_gateway_circuit_breaker_state")
	assert.NoError(t, rt.service.Ready(context.Background()))
}
