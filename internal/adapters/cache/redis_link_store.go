package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
)

const (
	linkKeyPrefix = "m62:link:"
	expiryIndex   = "m62:links:expiry"
	accessIndex   = "m62:links:access"

	// Hashes outlive their expiry so sweeps and stats still see them.
	linkRetention = 24 * time.Hour
	maxTxRetries  = 5
)

// RedisLinkStore implements ports.LinkRepository. Each link is a hash; two
// sorted sets index expiry time and access count.
type RedisLinkStore struct {
	client *redis.Client
}

func NewRedisLinkStore(client *redis.Client) *RedisLinkStore {
	return &RedisLinkStore{client: client}
}

func (s *RedisLinkStore) Create(ctx context.Context, rec domain.LinkRecord) error {
	key := linkKeyPrefix + rec.Handle
	fields := map[string]any{
		"ciphertext":   rec.Ciphertext,
		"created_at":   rec.CreatedAt.UnixNano(),
		"expires_at":   rec.ExpiresAt.UnixNano(),
		"access_count": rec.AccessCount,
	}
	if rec.LastAccessed != nil {
		fields["last_accessed"] = rec.LastAccessed.UnixNano()
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, fields)
		p.ExpireAt(ctx, key, rec.ExpiresAt.Add(linkRetention))
		p.ZAdd(ctx, expiryIndex, redis.Z{Score: expiryScore(rec.ExpiresAt), Member: rec.Handle})
		p.ZAdd(ctx, accessIndex, redis.Z{Score: float64(rec.AccessCount), Member: rec.Handle})
		return nil
	})
	return err
}

func (s *RedisLinkStore) Get(ctx context.Context, handle string) (domain.LinkRecord, error) {
	data, err := s.client.HGetAll(ctx, linkKeyPrefix+handle).Result()
	if err != nil {
		return domain.LinkRecord{}, err
	}
	return decodeLink(handle, data)
}

// Touch increments the access counter under WATCH so a concurrent delete
// cannot resurrect a partial hash.
func (s *RedisLinkStore) Touch(ctx context.Context, handle string, at time.Time) (domain.LinkRecord, error) {
	key := linkKeyPrefix + handle
	var rec domain.LinkRecord
	txf := func(tx *redis.Tx) error {
		data, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		current, err := decodeLink(handle, data)
		if err != nil {
			return err
		}
		current.AccessCount++
		accessed := at.UTC()
		current.LastAccessed = &accessed
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, "access_count", current.AccessCount, "last_accessed", accessed.UnixNano())
			p.ZAdd(ctx, accessIndex, redis.Z{Score: float64(current.AccessCount), Member: handle})
			return nil
		})
		if err != nil {
			return err
		}
		rec = current
		return nil
	}
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return rec, err
	}
	return domain.LinkRecord{}, redis.TxFailedErr
}

func (s *RedisLinkStore) Delete(ctx context.Context, handle string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, linkKeyPrefix+handle)
		p.ZRem(ctx, expiryIndex, handle)
		p.ZRem(ctx, accessIndex, handle)
		return nil
	})
	return err
}

func (s *RedisLinkStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	handles, err := s.client.ZRangeByScore(ctx, expiryIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: scoreBound(now),
	}).Result()
	if err != nil || len(handles) == 0 {
		return 0, err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		members := make([]any, len(handles))
		for i, h := range handles {
			p.Del(ctx, linkKeyPrefix+h)
			members[i] = h
		}
		p.ZRem(ctx, expiryIndex, members...)
		p.ZRem(ctx, accessIndex, members...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(handles), nil
}

func (s *RedisLinkStore) Stats(ctx context.Context, now time.Time) (domain.LinkStats, error) {
	total, err := s.client.ZCard(ctx, expiryIndex).Result()
	if err != nil {
		return domain.LinkStats{}, err
	}
	active, err := s.client.ZCount(ctx, expiryIndex, "("+scoreBound(now), "+inf").Result()
	if err != nil {
		return domain.LinkStats{}, err
	}
	counts, err := s.client.ZRevRangeWithScores(ctx, accessIndex, 0, -1).Result()
	if err != nil {
		return domain.LinkStats{}, err
	}
	stats := domain.LinkStats{
		Total:   int(total),
		Active:  int(active),
		Expired: int(total - active),
	}
	for i, z := range counts {
		if i == 0 {
			stats.MostAccessed = int64(z.Score)
		}
		stats.TotalAccess += int64(z.Score)
	}
	return stats, nil
}

func (s *RedisLinkStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Expiry scores are Unix milliseconds.
func expiryScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func scoreBound(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func decodeLink(handle string, data map[string]string) (domain.LinkRecord, error) {
	if len(data) == 0 {
		return domain.LinkRecord{}, domain.ErrNotFound
	}
	rec := domain.LinkRecord{
		Handle:     handle,
		Ciphertext: []byte(data["ciphertext"]),
	}
	created, err := parseNanos(data["created_at"])
	if err != nil {
		return domain.LinkRecord{}, domain.ErrCorruptRecord
	}
	expires, err := parseNanos(data["expires_at"])
	if err != nil {
		return domain.LinkRecord{}, domain.ErrCorruptRecord
	}
	rec.CreatedAt, rec.ExpiresAt = created, expires
	if raw := data["last_accessed"]; raw != "" {
		if t, err := parseNanos(raw); err == nil {
			rec.LastAccessed = &t
		}
	}
	if n, err := strconv.ParseInt(data["access_count"], 10, 64); err == nil {
		rec.AccessCount = n
	}
	return rec, nil
}

func parseNanos(raw string) (time.Time, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}
