package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "M62-Document-Gateway", cfg.ServiceID)
	assert.Equal(t, StorageBadger, cfg.StorageBackend)
	assert.Equal(t, 3, cfg.BreakerFailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.BreakerTimeout)
	assert.Equal(t, 100, cfg.CacheMaxSize)
	assert.Equal(t, 5, cfg.RateLimitRequests)
	assert.Equal(t, 10*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 7*24*time.Hour, cfg.LinkTTL)
	assert.Equal(t, []string{"127.0.0.1", "::1"}, cfg.AllowedIPs)
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	assert.False(t, cfg.Development())
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service:
  environment: development
  http_port: 7000
  public_base_url: https://docs.example.test
upstream:
  domain: example.test
  download_timeout: 90s
resilience:
  breaker:
    failure_threshold: 7
  rate_limit:
    max_requests: 50
    window: 1m
links:
  ttl: 48h
security:
  allowed_ips: []
audit:
  kafka_brokers: [kafka-1:9092]
`), 0o600))

	t.Setenv("HTTP_PORT", "7100")
	t.Setenv("CIRCUIT_BREAKER_TIMEOUT", "45")
	t.Setenv("RATE_LIMIT_WINDOW", "2m")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 7100, cfg.HTTPPort)
	assert.Equal(t, "https://docs.example.test", cfg.PublicBaseURL)
	assert.Equal(t, "example.test", cfg.UpstreamDomain)
	assert.Equal(t, 90*time.Second, cfg.DownloadTimeout)
	assert.Equal(t, 7, cfg.BreakerFailureThreshold)
	assert.Equal(t, 45*time.Second, cfg.BreakerTimeout)
	assert.Equal(t, 50, cfg.RateLimitRequests)
	assert.Equal(t, 2*time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, 48*time.Hour, cfg.LinkTTL)
	assert.Empty(t, cfg.AllowedIPs)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.Development())
}

func TestLoadConfigRejectsIncompleteBackends(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")

	t.Setenv("STORAGE_BACKEND", "postgres")
	_, err := LoadConfig(missing)
	assert.ErrorContains(t, err, "DB_URL")

	t.Setenv("DB_URL", "postgres://gateway@localhost/gateway")
	cfg, err := LoadConfig(missing)
	require.NoError(t, err)
	assert.Equal(t, StoragePostgres, cfg.StorageBackend)

	t.Setenv("STORAGE_BACKEND", "redis")
	_, err = LoadConfig(missing)
	assert.ErrorContains(t, err, "REDIS_URL")

	t.Setenv("STORAGE_BACKEND", "sqlite")
	_, err = LoadConfig(missing)
	assert.ErrorContains(t, err, "unknown storage backend")
}

func TestLoadConfigRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service: [unterminated"), 0o600))
	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "parse config file")
}

func TestEnvHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("M62_TEST_INT", "abc")
	t.Setenv("M62_TEST_DURATION", "-5s")
	t.Setenv("M62_TEST_BOOL", "maybe")
	t.Setenv("M62_TEST_CSV", " , ")

	assert.Equal(t, 4, envInt("M62_TEST_INT", 4))
	assert.Equal(t, time.Minute, envDuration("M62_TEST_DURATION", time.Minute))
	assert.True(t, envBool("M62_TEST_BOOL", true))
	assert.Equal(t, []string{"x"}, envCSV("M62_TEST_CSV", []string{"x"}))
}

func TestLoadConfigTTLDaysOverride(t *testing.T) {
	t.Setenv("LINK_TTL_DAYS", "3")
	t.Setenv("REGISTRY_TTL_DAYS", "0")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, cfg.LinkTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RegistryTTL)
}
