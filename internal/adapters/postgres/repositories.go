package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/ports"
)

type Repositories struct {
	Links     ports.LinkRepository
	Documents ports.DocumentRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Links:     &linkRepository{db: db},
		Documents: &documentRepository{db: db},
	}
}

type linkRepository struct {
	db *gorm.DB
}

func (r *linkRepository) Create(ctx context.Context, rec domain.LinkRecord) error {
	row := linkModel{
		Handle:       rec.Handle,
		Ciphertext:   rec.Ciphertext,
		CreatedAt:    rec.CreatedAt.UTC(),
		LastAccessed: rec.LastAccessed,
		ExpiresAt:    rec.ExpiresAt.UTC(),
		AccessCount:  rec.AccessCount,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (r *linkRepository) Get(ctx context.Context, handle string) (domain.LinkRecord, error) {
	var row linkModel
	if err := r.db.WithContext(ctx).Where("handle = ?", handle).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.LinkRecord{}, domain.ErrNotFound
		}
		return domain.LinkRecord{}, err
	}
	return toDomainLink(row), nil
}

func (r *linkRepository) Touch(ctx context.Context, handle string, at time.Time) (domain.LinkRecord, error) {
	var row linkModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&linkModel{}).
			Where("handle = ?", handle).
			Updates(map[string]any{
				"access_count":  gorm.Expr("access_count + 1"),
				"last_accessed": at.UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return tx.Where("handle = ?", handle).Take(&row).Error
	})
	if err != nil {
		return domain.LinkRecord{}, err
	}
	return toDomainLink(row), nil
}

func (r *linkRepository) Delete(ctx context.Context, handle string) error {
	return r.db.WithContext(ctx).Where("handle = ?", handle).Delete(&linkModel{}).Error
}

func (r *linkRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&linkModel{})
	return int(res.RowsAffected), res.Error
}

func (r *linkRepository) Stats(ctx context.Context, now time.Time) (domain.LinkStats, error) {
	var row struct {
		Total        int64
		Active       int64
		TotalAccess  int64
		MostAccessed int64
	}
	err := r.db.WithContext(ctx).
		Model(&linkModel{}).
		Select(`COUNT(*) AS total,
			COUNT(*) FILTER (WHERE expires_at > ?) AS active,
			COALESCE(SUM(access_count), 0) AS total_access,
			COALESCE(MAX(access_count), 0) AS most_accessed`, now.UTC()).
		Scan(&row).Error
	if err != nil {
		return domain.LinkStats{}, err
	}
	return domain.LinkStats{
		Total:        int(row.Total),
		Active:       int(row.Active),
		Expired:      int(row.Total - row.Active),
		TotalAccess:  row.TotalAccess,
		MostAccessed: row.MostAccessed,
	}, nil
}

func (r *linkRepository) Ping(ctx context.Context) error {
	return Ping(ctx, r.db)
}

type documentRepository struct {
	db *gorm.DB
}

func (r *documentRepository) Upsert(ctx context.Context, rec domain.DocumentRecord) error {
	row := documentModel{
		Namespace:         string(rec.Namespace),
		OwnerID:           rec.OwnerID,
		DocumentID:        rec.DocumentID,
		FetchURL:          rec.FetchURL,
		SealedCredential:  rec.SealedCredential,
		DisplayName:       rec.DisplayName,
		ApplicationNumber: rec.ApplicationNumber,
		PatentNumber:      rec.PatentNumber,
		DocumentType:      rec.DocumentType,
		RegisteredAt:      rec.RegisteredAt.UTC(),
		ExpiresAt:         rec.ExpiresAt.UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "namespace"},
			{Name: "owner_id"},
			{Name: "document_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"fetch_url",
			"sealed_credential",
			"display_name",
			"application_number",
			"patent_number",
			"document_type",
			"registered_at",
			"expires_at",
		}),
	}).Create(&row).Error
}

func (r *documentRepository) Get(ctx context.Context, ns domain.Namespace, ownerID, documentID string) (domain.DocumentRecord, error) {
	var row documentModel
	err := r.db.WithContext(ctx).
		Where("namespace = ? AND owner_id = ? AND document_id = ?", string(ns), ownerID, documentID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.DocumentRecord{}, domain.ErrNotFound
		}
		return domain.DocumentRecord{}, err
	}
	return toDomainDocument(row), nil
}

func (r *documentRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", now.UTC()).Delete(&documentModel{})
	return int(res.RowsAffected), res.Error
}

func (r *documentRepository) Stats(ctx context.Context, ns domain.Namespace, now time.Time) (domain.RegistryStats, error) {
	var row struct {
		Total   int64
		Expired int64
	}
	err := r.db.WithContext(ctx).
		Model(&documentModel{}).
		Select("COUNT(*) AS total, COUNT(*) FILTER (WHERE expires_at < ?) AS expired", now.UTC()).
		Where("namespace = ?", string(ns)).
		Scan(&row).Error
	if err != nil {
		return domain.RegistryStats{}, err
	}
	return domain.RegistryStats{
		Namespace: ns,
		Total:     int(row.Total),
		Active:    int(row.Total - row.Expired),
		Expired:   int(row.Expired),
	}, nil
}
