package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends for links and the document registry.
const (
	StorageBadger   = "badger"
	StoragePostgres = "postgres"
	// StorageRedis keeps links in Redis and the registry in badger.
	StorageRedis = "redis"
)

// Config is the resolved runtime configuration for M62.
type Config struct {
	ServiceID   string
	Environment string

	HTTPPort      int
	GRPCPort      int
	PublicBaseURL string

	UpstreamBaseURL  string
	UpstreamDomain   string
	CredentialSecret string
	MetadataTimeout  time.Duration
	DownloadTimeout  time.Duration
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxConcurrent    int

	BreakerFailureThreshold int
	BreakerTimeout          time.Duration
	CacheTTL                time.Duration
	CacheMaxSize            int
	BudgetMaxRetries        int
	BudgetWindow            time.Duration
	RateLimitRequests       int
	RateLimitWindow         time.Duration

	LinkTTL       time.Duration
	RegistryTTL   time.Duration
	SweepInterval time.Duration

	StorageBackend string
	BadgerPath     string
	BadgerGC       time.Duration
	DatabaseURL    string
	MaxDBConns     int32
	RedisURL       string

	SecretBackend    string
	SecretDir        string
	SecretPassphrase string
	TokenKeySecret   string
	MasterKeySecret  string

	AllowedIPs   []string
	CORSOrigins  []string
	MaxBodyBytes int64

	KafkaBrokers    []string
	AuditTopic      string
	AuditBuffer     int
	AuditMaxRetries int
}

// Development reports whether error responses may carry internal detail.
func (c Config) Development() bool {
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// configFile mirrors configs/default.yaml.
type configFile struct {
	Service struct {
		ID            string `yaml:"id"`
		Environment   string `yaml:"environment"`
		HTTPPort      int    `yaml:"http_port"`
		GRPCPort      int    `yaml:"grpc_port"`
		PublicBaseURL string `yaml:"public_base_url"`
	} `yaml:"service"`
	Upstream struct {
		BaseURL          string        `yaml:"base_url"`
		Domain           string        `yaml:"domain"`
		CredentialSecret string        `yaml:"credential_secret"`
		MetadataTimeout  time.Duration `yaml:"metadata_timeout"`
		DownloadTimeout  time.Duration `yaml:"download_timeout"`
		MaxAttempts      int           `yaml:"max_attempts"`
		BaseDelay        time.Duration `yaml:"base_delay"`
		MaxConcurrent    int           `yaml:"max_concurrent"`
	} `yaml:"upstream"`
	Resilience struct {
		Breaker struct {
			FailureThreshold int           `yaml:"failure_threshold"`
			Timeout          time.Duration `yaml:"timeout"`
		} `yaml:"breaker"`
		Cache struct {
			TTL     time.Duration `yaml:"ttl"`
			MaxSize int           `yaml:"max_size"`
		} `yaml:"cache"`
		Budget struct {
			MaxRetries int           `yaml:"max_retries"`
			Window     time.Duration `yaml:"window"`
		} `yaml:"budget"`
		RateLimit struct {
			MaxRequests int           `yaml:"max_requests"`
			Window      time.Duration `yaml:"window"`
		} `yaml:"rate_limit"`
	} `yaml:"resilience"`
	Links struct {
		TTL           time.Duration `yaml:"ttl"`
		RegistryTTL   time.Duration `yaml:"registry_ttl"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
	} `yaml:"links"`
	Storage struct {
		Backend     string        `yaml:"backend"`
		BadgerPath  string        `yaml:"badger_path"`
		BadgerGC    time.Duration `yaml:"badger_gc_interval"`
		PostgresURL string        `yaml:"postgres_url"`
		RedisURL    string        `yaml:"redis_url"`
	} `yaml:"storage"`
	Secrets struct {
		Backend   string `yaml:"backend"`
		Dir       string `yaml:"dir"`
		TokenKey  string `yaml:"token_key"`
		MasterKey string `yaml:"master_key"`
	} `yaml:"secrets"`
	Security struct {
		AllowedIPs   []string `yaml:"allowed_ips"`
		CORSOrigins  []string `yaml:"cors_origins"`
		MaxBodyBytes int64    `yaml:"max_body_bytes"`
	} `yaml:"security"`
	Audit struct {
		KafkaBrokers []string `yaml:"kafka_brokers"`
		Topic        string   `yaml:"topic"`
		Buffer       int      `yaml:"buffer"`
		MaxRetries   int      `yaml:"max_retries"`
	} `yaml:"audit"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:               "M62-Document-Gateway",
		Environment:             "production",
		HTTPPort:                8081,
		GRPCPort:                9091,
		PublicBaseURL:           "http://localhost:8081",
		UpstreamBaseURL:         "https://api.uspto.gov/api/v1/patent/applications",
		UpstreamDomain:          "uspto.gov",
		CredentialSecret:        "USPTO_API_KEY",
		MetadataTimeout:         30 * time.Second,
		DownloadTimeout:         60 * time.Second,
		MaxAttempts:             3,
		BaseDelay:               time.Second,
		MaxConcurrent:           10,
		BreakerFailureThreshold: 3,
		BreakerTimeout:          30 * time.Second,
		CacheTTL:                5 * time.Minute,
		CacheMaxSize:            100,
		BudgetMaxRetries:        100,
		BudgetWindow:            time.Hour,
		RateLimitRequests:       5,
		RateLimitWindow:         10 * time.Second,
		LinkTTL:                 7 * 24 * time.Hour,
		RegistryTTL:             7 * 24 * time.Hour,
		SweepInterval:           5 * time.Minute,
		StorageBackend:          StorageBadger,
		BadgerPath:              "data/badger",
		BadgerGC:                10 * time.Minute,
		MaxDBConns:              10,
		SecretBackend:           "auto",
		SecretDir:               "data/secrets",
		TokenKeySecret:          "INTERNAL_AUTH_SECRET",
		MasterKeySecret:         "PROXY_ENCRYPTION_KEY",
		AllowedIPs:              []string{"127.0.0.1", "::1"},
		MaxBodyBytes:            1 << 20,
		AuditBuffer:             1024,
		AuditMaxRetries:         3,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		applyFile(&cfg, f)
	}

	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.Environment = envOrDefault("ENVIRONMENT", cfg.Environment)
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.PublicBaseURL = strings.TrimRight(envOrDefault("PUBLIC_BASE_URL", cfg.PublicBaseURL), "/")

	cfg.UpstreamBaseURL = strings.TrimRight(envOrDefault("USPTO_API_BASE_URL", cfg.UpstreamBaseURL), "/")
	cfg.UpstreamDomain = strings.ToLower(envOrDefault("USPTO_DOMAIN", cfg.UpstreamDomain))
	cfg.CredentialSecret = envOrDefault("UPSTREAM_CREDENTIAL_SECRET", cfg.CredentialSecret)
	cfg.MetadataTimeout = envDuration("UPSTREAM_METADATA_TIMEOUT", cfg.MetadataTimeout)
	cfg.DownloadTimeout = envDuration("UPSTREAM_DOWNLOAD_TIMEOUT", cfg.DownloadTimeout)
	cfg.MaxAttempts = envInt("UPSTREAM_MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.BaseDelay = envDuration("UPSTREAM_BASE_DELAY", cfg.BaseDelay)
	cfg.MaxConcurrent = envInt("UPSTREAM_MAX_CONCURRENT", cfg.MaxConcurrent)

	cfg.BreakerFailureThreshold = envInt("CIRCUIT_BREAKER_FAILURE_THRESHOLD", cfg.BreakerFailureThreshold)
	cfg.BreakerTimeout = envDuration("CIRCUIT_BREAKER_TIMEOUT", cfg.BreakerTimeout)
	cfg.CacheTTL = envDuration("RESPONSE_CACHE_TTL", cfg.CacheTTL)
	cfg.CacheMaxSize = envInt("RESPONSE_CACHE_MAX_SIZE", cfg.CacheMaxSize)
	cfg.BudgetMaxRetries = envInt("RETRY_BUDGET_MAX_RETRIES", cfg.BudgetMaxRetries)
	cfg.BudgetWindow = envDuration("RETRY_BUDGET_WINDOW", cfg.BudgetWindow)
	cfg.RateLimitRequests = envInt("RATE_LIMIT_MAX_REQUESTS", cfg.RateLimitRequests)
	cfg.RateLimitWindow = envDuration("RATE_LIMIT_WINDOW", cfg.RateLimitWindow)

	cfg.LinkTTL = envDays("LINK_TTL_DAYS", cfg.LinkTTL)
	cfg.RegistryTTL = envDays("REGISTRY_TTL_DAYS", cfg.RegistryTTL)
	cfg.SweepInterval = envDuration("SWEEP_INTERVAL", cfg.SweepInterval)

	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(envOrDefault("STORAGE_BACKEND", cfg.StorageBackend)))
	cfg.BadgerPath = envOrDefault("BADGER_PATH", cfg.BadgerPath)
	cfg.BadgerGC = envDuration("BADGER_GC_INTERVAL", cfg.BadgerGC)
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("DATABASE_URL", cfg.DatabaseURL))
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)

	cfg.SecretBackend = strings.ToLower(envOrDefault("SECRET_BACKEND", cfg.SecretBackend))
	cfg.SecretDir = envOrDefault("SECRET_DIR", cfg.SecretDir)
	cfg.SecretPassphrase = envOrDefault("SECRET_PASSPHRASE", cfg.SecretPassphrase)

	cfg.AllowedIPs = envCSV("ALLOWED_IPS", cfg.AllowedIPs)
	cfg.CORSOrigins = envCSV("CORS_ORIGINS", cfg.CORSOrigins)
	cfg.MaxBodyBytes = int64(envInt("MAX_BODY_BYTES", int(cfg.MaxBodyBytes)))

	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.AuditTopic = envOrDefault("AUDIT_TOPIC", cfg.AuditTopic)
	cfg.AuditBuffer = envInt("AUDIT_BUFFER", cfg.AuditBuffer)
	cfg.AuditMaxRetries = envInt("AUDIT_MAX_RETRIES", cfg.AuditMaxRetries)

	if envBool("ALLOW_ALL_IPS", false) {
		cfg.AllowedIPs = nil
	}

	switch cfg.StorageBackend {
	case StorageBadger:
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("missing DB_URL/DATABASE_URL for postgres storage")
		}
	case StorageRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("missing REDIS_URL for redis storage")
		}
	default:
		return Config{}, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
	if cfg.StorageBackend != StoragePostgres && cfg.BadgerPath == "" {
		return Config{}, fmt.Errorf("missing BADGER_PATH")
	}
	if cfg.PublicBaseURL == "" {
		return Config{}, fmt.Errorf("missing PUBLIC_BASE_URL")
	}

	return cfg, nil
}

func applyFile(cfg *Config, f configFile) {
	setString(&cfg.ServiceID, f.Service.ID)
	setString(&cfg.Environment, f.Service.Environment)
	setInt(&cfg.HTTPPort, f.Service.HTTPPort)
	setInt(&cfg.GRPCPort, f.Service.GRPCPort)
	setString(&cfg.PublicBaseURL, f.Service.PublicBaseURL)

	setString(&cfg.UpstreamBaseURL, f.Upstream.BaseURL)
	setString(&cfg.UpstreamDomain, f.Upstream.Domain)
	setString(&cfg.CredentialSecret, f.Upstream.CredentialSecret)
	setDuration(&cfg.MetadataTimeout, f.Upstream.MetadataTimeout)
	setDuration(&cfg.DownloadTimeout, f.Upstream.DownloadTimeout)
	setInt(&cfg.MaxAttempts, f.Upstream.MaxAttempts)
	setDuration(&cfg.BaseDelay, f.Upstream.BaseDelay)
	setInt(&cfg.MaxConcurrent, f.Upstream.MaxConcurrent)

	setInt(&cfg.BreakerFailureThreshold, f.Resilience.Breaker.FailureThreshold)
	setDuration(&cfg.BreakerTimeout, f.Resilience.Breaker.Timeout)
	setDuration(&cfg.CacheTTL, f.Resilience.Cache.TTL)
	setInt(&cfg.CacheMaxSize, f.Resilience.Cache.MaxSize)
	setInt(&cfg.BudgetMaxRetries, f.Resilience.Budget.MaxRetries)
	setDuration(&cfg.BudgetWindow, f.Resilience.Budget.Window)
	setInt(&cfg.RateLimitRequests, f.Resilience.RateLimit.MaxRequests)
	setDuration(&cfg.RateLimitWindow, f.Resilience.RateLimit.Window)

	setDuration(&cfg.LinkTTL, f.Links.TTL)
	setDuration(&cfg.RegistryTTL, f.Links.RegistryTTL)
	setDuration(&cfg.SweepInterval, f.Links.SweepInterval)

	setString(&cfg.StorageBackend, f.Storage.Backend)
	setString(&cfg.BadgerPath, f.Storage.BadgerPath)
	setDuration(&cfg.BadgerGC, f.Storage.BadgerGC)
	setString(&cfg.DatabaseURL, f.Storage.PostgresURL)
	setString(&cfg.RedisURL, f.Storage.RedisURL)

	setString(&cfg.SecretBackend, f.Secrets.Backend)
	setString(&cfg.SecretDir, f.Secrets.Dir)
	setString(&cfg.TokenKeySecret, f.Secrets.TokenKey)
	setString(&cfg.MasterKeySecret, f.Secrets.MasterKey)

	if f.Security.AllowedIPs != nil {
		cfg.AllowedIPs = f.Security.AllowedIPs
	}
	if len(f.Security.CORSOrigins) > 0 {
		cfg.CORSOrigins = f.Security.CORSOrigins
	}
	if f.Security.MaxBodyBytes > 0 {
		cfg.MaxBodyBytes = f.Security.MaxBodyBytes
	}

	if len(f.Audit.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = f.Audit.KafkaBrokers
	}
	setString(&cfg.AuditTopic, f.Audit.Topic)
	setInt(&cfg.AuditBuffer, f.Audit.Buffer)
	setInt(&cfg.AuditMaxRetries, f.Audit.MaxRetries)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// envDuration accepts Go duration strings ("90s") or bare seconds ("90").
func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

// envDays reads a whole number of days.
func envDays(name string, fallback time.Duration) time.Duration {
	if days := envInt(name, 0); days > 0 {
		return time.Duration(days) * 24 * time.Hour
	}
	return fallback
}

// envBool parses common boolean env forms while keeping a deterministic fallback.
func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
