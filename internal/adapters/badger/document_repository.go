package badger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
)

const documentPrefix = "doc/"

type documentDoc struct {
	FetchURL          string    `json:"fetch_url"`
	SealedCredential  []byte    `json:"sealed_credential"`
	DisplayName       string    `json:"display_name,omitempty"`
	ApplicationNumber string    `json:"application_number,omitempty"`
	PatentNumber      string    `json:"patent_number,omitempty"`
	DocumentType      string    `json:"document_type,omitempty"`
	RegisteredAt      time.Time `json:"registered_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// DocumentRepository implements ports.DocumentRepository on BadgerDB.
// Keys are doc/{namespace}/{owner_id}/{document_id}.
type DocumentRepository struct {
	db *DB
}

func NewDocumentRepository(db *DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func namespacePrefix(ns domain.Namespace) []byte {
	return []byte(documentPrefix + string(ns) + "/")
}

func documentKey(ns domain.Namespace, ownerID, documentID string) []byte {
	return append(namespacePrefix(ns), ownerID+"/"+documentID...)
}

func (r *DocumentRepository) Upsert(_ context.Context, rec domain.DocumentRecord) error {
	raw, err := json.Marshal(documentDoc{
		FetchURL:          rec.FetchURL,
		SealedCredential:  rec.SealedCredential,
		DisplayName:       rec.DisplayName,
		ApplicationNumber: rec.ApplicationNumber,
		PatentNumber:      rec.PatentNumber,
		DocumentType:      rec.DocumentType,
		RegisteredAt:      rec.RegisteredAt.UTC(),
		ExpiresAt:         rec.ExpiresAt.UTC(),
	})
	if err != nil {
		return err
	}
	return r.db.update(func(txn *badger.Txn) error {
		return txn.Set(documentKey(rec.Namespace, rec.OwnerID, rec.DocumentID), raw)
	})
}

func (r *DocumentRepository) Get(_ context.Context, ns domain.Namespace, ownerID, documentID string) (domain.DocumentRecord, error) {
	var doc documentDoc
	err := r.db.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(documentKey(ns, ownerID, documentID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.DocumentRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.DocumentRecord{}, err
	}
	return domain.DocumentRecord{
		Namespace:         ns,
		OwnerID:           ownerID,
		DocumentID:        documentID,
		FetchURL:          doc.FetchURL,
		SealedCredential:  doc.SealedCredential,
		DisplayName:       doc.DisplayName,
		ApplicationNumber: doc.ApplicationNumber,
		PatentNumber:      doc.PatentNumber,
		DocumentType:      doc.DocumentType,
		RegisteredAt:      doc.RegisteredAt,
		ExpiresAt:         doc.ExpiresAt,
	}, nil
}

func (r *DocumentRepository) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	var expired [][]byte
	err := r.db.scan([]byte(documentPrefix), func(key, value []byte) error {
		var doc documentDoc
		if err := json.Unmarshal(value, &doc); err != nil {
			expired = append(expired, key)
			return nil
		}
		if !doc.ExpiresAt.IsZero() && now.After(doc.ExpiresAt) {
			expired = append(expired, key)
		}
		return nil
	})
	if err != nil || len(expired) == 0 {
		return 0, err
	}
	err = r.db.update(func(txn *badger.Txn) error {
		for _, key := range expired {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(expired), nil
}

func (r *DocumentRepository) Stats(_ context.Context, ns domain.Namespace, now time.Time) (domain.RegistryStats, error) {
	stats := domain.RegistryStats{Namespace: ns}
	err := r.db.scan(namespacePrefix(ns), func(_, value []byte) error {
		var doc documentDoc
		if err := json.Unmarshal(value, &doc); err != nil {
			return nil
		}
		stats.Total++
		if !doc.ExpiresAt.IsZero() && now.After(doc.ExpiresAt) {
			stats.Expired++
		} else {
			stats.Active++
		}
		return nil
	})
	return stats, err
}
