package resilience

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

type CacheConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	MaxSize int           `yaml:"max_size"`
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 5 * time.Minute, MaxSize: 100}
}

// CacheStats describes cache occupancy.
type CacheStats struct {
	Size        int
	MaxSize     int
	TTL         time.Duration
	Utilization float64
}

type cacheEntry struct {
	payload  []byte
	storedAt time.Time
}

// ResponseCache keeps last-known-good upstream payloads keyed by request fingerprint.
//
// Entries are only ever read with Peek, so the LRU list stays ordered by
// stored_at and capacity eviction always drops the oldest write.
type ResponseCache struct {
	mu      sync.Mutex
	cfg     CacheConfig
	clock   clock.Clock
	entries *simplelru.LRU[string, cacheEntry]
}

func NewResponseCache(cfg CacheConfig, clk clock.Clock) *ResponseCache {
	def := DefaultCacheConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if clk == nil {
		clk = clock.New()
	}
	// NewLRU only fails for a non-positive size.
	entries, _ := simplelru.NewLRU[string, cacheEntry](cfg.MaxSize, nil)
	return &ResponseCache{cfg: cfg, clock: clk, entries: entries}
}

// Get returns the payload for fingerprint if it was stored less than TTL ago.
func (c *ResponseCache) Get(fingerprint string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Peek(fingerprint)
	if !ok {
		return nil, false
	}
	if c.clock.Now().Sub(entry.storedAt) >= c.cfg.TTL {
		c.entries.Remove(fingerprint)
		return nil, false
	}
	return entry.payload, true
}

// Set stores payload, evicting the entry with the smallest stored_at when full.
func (c *ResponseCache) Set(fingerprint string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.entries.Contains(fingerprint) && c.entries.Len() >= c.cfg.MaxSize {
		c.entries.RemoveOldest()
	}
	c.entries.Add(fingerprint, cacheEntry{payload: payload, storedAt: c.clock.Now()})
}

func (c *ResponseCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	size := c.entries.Len()
	return CacheStats{
		Size:        size,
		MaxSize:     c.cfg.MaxSize,
		TTL:         c.cfg.TTL,
		Utilization: float64(size) / float64(c.cfg.MaxSize),
	}
}

// Fingerprint derives a stable cache key from an endpoint and its parameters.
func Fingerprint(endpoint string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(endpoint)
	b.WriteByte(':')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}
