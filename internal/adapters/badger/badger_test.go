package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Options{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLinkRepositoryLifecycle(t *testing.T) {
	repo := NewLinkRepository(openTestDB(t))
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = repo.Touch(ctx, "missing", now)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	rec := domain.LinkRecord{
		Handle:     "0123456789abcdef0123456789abcdef",
		Ciphertext: []byte("sealed"),
		CreatedAt:  now,
		ExpiresAt:  now.Add(7 * 24 * time.Hour),
	}
	require.NoError(t, repo.Create(ctx, rec))

	got, err := repo.Get(ctx, rec.Handle)
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed"), got.Ciphertext)
	assert.Nil(t, got.LastAccessed)
	assert.Zero(t, got.AccessCount)

	later := now.Add(time.Hour)
	touched, err := repo.Touch(ctx, rec.Handle, later)
	require.NoError(t, err)
	assert.Equal(t, int64(1), touched.AccessCount)
	require.NotNil(t, touched.LastAccessed)
	assert.True(t, later.Equal(*touched.LastAccessed))

	_, err = repo.Touch(ctx, rec.Handle, later)
	require.NoError(t, err)
	got, err = repo.Get(ctx, rec.Handle)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.AccessCount)

	require.NoError(t, repo.Delete(ctx, rec.Handle))
	_, err = repo.Get(ctx, rec.Handle)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLinkRepositorySweepAndStats(t *testing.T) {
	repo := NewLinkRepository(openTestDB(t))
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, domain.LinkRecord{
		Handle: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", CreatedAt: now, ExpiresAt: now.Add(time.Hour), AccessCount: 4,
	}))
	require.NoError(t, repo.Create(ctx, domain.LinkRecord{
		Handle: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", CreatedAt: now, ExpiresAt: now.Add(-time.Second), AccessCount: 9,
	}))
	require.NoError(t, repo.Create(ctx, domain.LinkRecord{
		Handle: "cccccccccccccccccccccccccccccccc", CreatedAt: now, ExpiresAt: now,
	}))

	stats, err := repo.Stats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, domain.LinkStats{Total: 3, Active: 1, Expired: 2, TotalAccess: 13, MostAccessed: 9}, stats)

	removed, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	removed, err = repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, removed)

	stats, err = repo.Stats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.NoError(t, repo.Ping(ctx))
}

func TestDocumentRepositoryUpsertAndScopes(t *testing.T) {
	repo := NewDocumentRepository(openTestDB(t))
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	rec := domain.DocumentRecord{
		Namespace:        domain.NamespacePTAB,
		OwnerID:          "IPR2024-00001",
		DocumentID:       "doc-1",
		FetchURL:         "https://api.uspto.gov/ptab/doc-1.pdf",
		SealedCredential: []byte("sealed-1"),
		DisplayName:      "paper.pdf",
		RegisteredAt:     now,
		ExpiresAt:        now.Add(7 * 24 * time.Hour),
	}
	require.NoError(t, repo.Upsert(ctx, rec))

	_, err := repo.Get(ctx, domain.NamespaceFPD, rec.OwnerID, rec.DocumentID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	rec.FetchURL = "https://api.uspto.gov/ptab/doc-1-v2.pdf"
	require.NoError(t, repo.Upsert(ctx, rec))
	got, err := repo.Get(ctx, domain.NamespacePTAB, rec.OwnerID, rec.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, rec.FetchURL, got.FetchURL)
	assert.Equal(t, "paper.pdf", got.DisplayName)

	stale := rec
	stale.DocumentID = "doc-2"
	stale.ExpiresAt = now.Add(-time.Minute)
	require.NoError(t, repo.Upsert(ctx, stale))

	stats, err := repo.Stats(ctx, domain.NamespacePTAB, now)
	require.NoError(t, err)
	assert.Equal(t, domain.RegistryStats{Namespace: domain.NamespacePTAB, Total: 2, Active: 1, Expired: 1}, stats)

	fpd, err := repo.Stats(ctx, domain.NamespaceFPD, now)
	require.NoError(t, err)
	assert.Zero(t, fpd.Total)

	removed, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, err = repo.Get(ctx, domain.NamespacePTAB, rec.OwnerID, "doc-2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
