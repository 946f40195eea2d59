package postgres

import (
	"regexp"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
)

func TestEmbeddedMigrationsCreateBothTables(t *testing.T) {
	raw, err := migrationFS.ReadFile("migrations/0001_init.sql")
	require.NoError(t, err)
	schema := string(raw)
	assert.Contains(t, schema, linkModel{}.TableName())
	assert.Contains(t, schema, documentModel{}.TableName())
	assert.Contains(t, schema, "PRIMARY KEY (namespace, owner_id, document_id)")
}

func TestEmbeddedSchemaWidthsMatchValidators(t *testing.T) {
	raw, err := migrationFS.ReadFile("migrations/0001_init.sql")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`patent_number\s+VARCHAR\(16\)`), string(raw))
	assert.Regexp(t, regexp.MustCompile(`document_type\s+VARCHAR\(64\)`), string(raw))
	assert.Regexp(t, regexp.MustCompile(`document_id\s+VARCHAR\(128\)`), string(raw))
}

func TestPendingMigrationsSkipsApplied(t *testing.T) {
	pending, err := pendingMigrations(migrationFS, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init.sql"}, pending)

	pending, err = pendingMigrations(migrationFS, map[string]bool{"0001_init.sql": true})
	require.NoError(t, err)
	assert.Empty(t, pending)

	fsys := fstest.MapFS{
		"migrations/0002_access_index.sql": {Data: []byte("SELECT 1;")},
		"migrations/0001_init.sql":         {Data: []byte("SELECT 1;")},
		"migrations/README.md":             {Data: []byte("notes")},
	}
	pending, err = pendingMigrations(fsys, map[string]bool{"0001_init.sql": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_access_index.sql"}, pending)
}

func TestDocumentModelMapping(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	got := toDomainDocument(documentModel{
		Namespace:  "fpd",
		OwnerID:    "owner",
		DocumentID: "doc",
		FetchURL:   "https://api.uspto.gov/x.pdf",
		ExpiresAt:  now,
	})
	assert.Equal(t, domain.NamespaceFPD, got.Namespace)
	assert.Equal(t, "doc", got.DocumentID)
	assert.True(t, got.ExpiresAt.Equal(now))
}
