package postgres

import (
	"time"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
)

type linkModel struct {
	Handle       string     `gorm:"column:handle;primaryKey"`
	Ciphertext   []byte     `gorm:"column:ciphertext"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	LastAccessed *time.Time `gorm:"column:last_accessed"`
	ExpiresAt    time.Time  `gorm:"column:expires_at"`
	AccessCount  int64      `gorm:"column:access_count"`
}

func (linkModel) TableName() string { return "secure_links" }

type documentModel struct {
	Namespace         string    `gorm:"column:namespace;primaryKey"`
	OwnerID           string    `gorm:"column:owner_id;primaryKey"`
	DocumentID        string    `gorm:"column:document_id;primaryKey"`
	FetchURL          string    `gorm:"column:fetch_url"`
	SealedCredential  []byte    `gorm:"column:sealed_credential"`
	DisplayName       string    `gorm:"column:display_name"`
	ApplicationNumber string    `gorm:"column:application_number"`
	PatentNumber      string    `gorm:"column:patent_number"`
	DocumentType      string    `gorm:"column:document_type"`
	RegisteredAt      time.Time `gorm:"column:registered_at"`
	ExpiresAt         time.Time `gorm:"column:expires_at"`
}

func (documentModel) TableName() string { return "registered_documents" }

func toDomainLink(m linkModel) domain.LinkRecord {
	return domain.LinkRecord{
		Handle:       m.Handle,
		Ciphertext:   m.Ciphertext,
		CreatedAt:    m.CreatedAt,
		LastAccessed: m.LastAccessed,
		ExpiresAt:    m.ExpiresAt,
		AccessCount:  m.AccessCount,
	}
}

func toDomainDocument(m documentModel) domain.DocumentRecord {
	return domain.DocumentRecord{
		Namespace:         domain.Namespace(m.Namespace),
		OwnerID:           m.OwnerID,
		DocumentID:        m.DocumentID,
		FetchURL:          m.FetchURL,
		SealedCredential:  m.SealedCredential,
		DisplayName:       m.DisplayName,
		ApplicationNumber: m.ApplicationNumber,
		PatentNumber:      m.PatentNumber,
		DocumentType:      m.DocumentType,
		RegisteredAt:      m.RegisteredAt,
		ExpiresAt:         m.ExpiresAt,
	}
}
