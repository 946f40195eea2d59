package upstream

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
)

const documentsJSON = `{
  "documentBag": [
    {"documentIdentifier": "AAA111", "documentCode": "CTNF",
     "downloadOptionBag": [
       {"mimeTypeIdentifier": "XML", "downloadUrl": "https://api.uspto.gov/x.xml"},
       {"mimeTypeIdentifier": "PDF", "downloadUrl": "https://api.uspto.gov/x.pdf", "pageTotalQuantity": 12}
     ]},
    {"documentIdentifier": "BBB222", "documentCode": "NOA", "downloadOptionBag": []}
  ]
}`

func TestLocateFindsPDFOption(t *testing.T) {
	var gotKey, gotPath string
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(apiKeyHeader)
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(documentsJSON))
	})
	fc := NewFilingClient(f.client, f.server.URL+"/applications/", nil)

	loc, err := fc.Locate(context.Background(), "16123456", "AAA111", "gateway-key")
	require.NoError(t, err)
	assert.Equal(t, "https://api.uspto.gov/x.pdf", loc.FetchURL)
	assert.Equal(t, "CTNF", loc.DocumentCode)
	assert.Equal(t, 12, loc.PageCount)
	assert.Equal(t, "gateway-key", gotKey)
	assert.Equal(t, "/applications/16123456/documents", gotPath)
}

func TestLocateMissingDocument(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(documentsJSON))
	})
	fc := NewFilingClient(f.client, f.server.URL, nil)

	_, err := fc.Locate(context.Background(), "16123456", "ZZZ", "k")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = fc.Locate(context.Background(), "16123456", "BBB222", "k")
	assert.ErrorIs(t, err, domain.ErrNotFound, "no PDF option")
}

func TestLocateUpstreamAuthFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.status.Store(http.StatusUnauthorized)
	fc := NewFilingClient(f.client, f.server.URL, nil)

	_, err := fc.Locate(context.Background(), "16123456", "AAA111", "bad")
	assert.ErrorIs(t, err, domain.ErrUpstreamAuth)
}

func TestOpenStreamsWithCredential(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gateway-key", r.Header.Get(apiKeyHeader))
		_, _ = w.Write([]byte("%PDF"))
	})
	fc := NewFilingClient(f.client, f.server.URL, nil)

	stream, err := fc.Open(context.Background(), f.server.URL+"/doc.pdf", "gateway-key")
	require.NoError(t, err)
	defer stream.Body.Close()
	body, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(body))
	assert.NotEmpty(t, stream.ContentType)
}
