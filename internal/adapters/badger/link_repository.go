package badger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
)

var linkPrefix = []byte("link/")

type linkDoc struct {
	Ciphertext   []byte     `json:"ciphertext"`
	CreatedAt    time.Time  `json:"created_at"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`
	ExpiresAt    time.Time  `json:"expires_at"`
	AccessCount  int64      `json:"access_count"`
}

// LinkRepository implements ports.LinkRepository on BadgerDB.
type LinkRepository struct {
	db *DB
}

func NewLinkRepository(db *DB) *LinkRepository {
	return &LinkRepository{db: db}
}

func linkKey(handle string) []byte {
	return append(append([]byte{}, linkPrefix...), handle...)
}

func (r *LinkRepository) Create(_ context.Context, rec domain.LinkRecord) error {
	raw, err := json.Marshal(toLinkDoc(rec))
	if err != nil {
		return err
	}
	return r.db.update(func(txn *badger.Txn) error {
		return txn.Set(linkKey(rec.Handle), raw)
	})
}

func (r *LinkRepository) Get(_ context.Context, handle string) (domain.LinkRecord, error) {
	var rec domain.LinkRecord
	err := r.db.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getLink(txn, handle)
		return err
	})
	return rec, err
}

func (r *LinkRepository) Touch(_ context.Context, handle string, at time.Time) (domain.LinkRecord, error) {
	var rec domain.LinkRecord
	err := r.db.update(func(txn *badger.Txn) error {
		current, err := getLink(txn, handle)
		if err != nil {
			return err
		}
		current.AccessCount++
		accessed := at.UTC()
		current.LastAccessed = &accessed
		raw, err := json.Marshal(toLinkDoc(current))
		if err != nil {
			return err
		}
		rec = current
		return txn.Set(linkKey(handle), raw)
	})
	return rec, err
}

func (r *LinkRepository) Delete(_ context.Context, handle string) error {
	return r.db.update(func(txn *badger.Txn) error {
		return txn.Delete(linkKey(handle))
	})
}

func (r *LinkRepository) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	var expired [][]byte
	err := r.db.scan(linkPrefix, func(key, value []byte) error {
		var doc linkDoc
		if err := json.Unmarshal(value, &doc); err != nil || !now.Before(doc.ExpiresAt) {
			expired = append(expired, key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}
	wb := r.db.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range expired {
		if err := wb.Delete(key); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return len(expired), nil
}

func (r *LinkRepository) Stats(_ context.Context, now time.Time) (domain.LinkStats, error) {
	var stats domain.LinkStats
	err := r.db.scan(linkPrefix, func(_, value []byte) error {
		var doc linkDoc
		if err := json.Unmarshal(value, &doc); err != nil {
			return nil
		}
		stats.Total++
		if now.Before(doc.ExpiresAt) {
			stats.Active++
		} else {
			stats.Expired++
		}
		stats.TotalAccess += doc.AccessCount
		if doc.AccessCount > stats.MostAccessed {
			stats.MostAccessed = doc.AccessCount
		}
		return nil
	})
	return stats, err
}

func (r *LinkRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func getLink(txn *badger.Txn, handle string) (domain.LinkRecord, error) {
	item, err := txn.Get(linkKey(handle))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.LinkRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.LinkRecord{}, err
	}
	var doc linkDoc
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &doc)
	}); err != nil {
		return domain.LinkRecord{}, err
	}
	return domain.LinkRecord{
		Handle:       handle,
		Ciphertext:   doc.Ciphertext,
		CreatedAt:    doc.CreatedAt,
		LastAccessed: doc.LastAccessed,
		ExpiresAt:    doc.ExpiresAt,
		AccessCount:  doc.AccessCount,
	}, nil
}

func toLinkDoc(rec domain.LinkRecord) linkDoc {
	return linkDoc{
		Ciphertext:   rec.Ciphertext,
		CreatedAt:    rec.CreatedAt.UTC(),
		LastAccessed: rec.LastAccessed,
		ExpiresAt:    rec.ExpiresAt.UTC(),
		AccessCount:  rec.AccessCount,
	}
}
