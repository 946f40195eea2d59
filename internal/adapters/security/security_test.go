package security

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTokens(t *testing.T) (*CapabilityTokens, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	tokens, err := NewCapabilityTokens(testKey, clk)
	require.NoError(t, err)
	return tokens, clk
}

func TestTokenRoundTrip(t *testing.T) {
	tokens, clk := newTokens(t)
	raw, err := tokens.Create("fpd-service", "127.0.0.1", time.Minute, map[string]string{"type": "document_access", "owner_id": "X"})
	require.NoError(t, err)

	payload, ok := tokens.Validate(raw, "fpd-service", "127.0.0.1")
	require.True(t, ok)
	assert.Equal(t, "fpd-service", payload.Service)
	assert.Equal(t, "127.0.0.1", payload.ClientBinding)
	assert.Equal(t, "X", payload.Metadata["owner_id"])
	assert.Equal(t, clk.Now().UTC(), payload.IssuedAt)
	assert.Equal(t, clk.Now().Add(time.Minute).UTC(), payload.ExpiresAt)

	_, ok = tokens.Validate(raw, "", "")
	assert.True(t, ok, "filters are optional")
}

func TestTokenRejectsExpired(t *testing.T) {
	tokens, clk := newTokens(t)
	raw, err := tokens.Create("svc", "", time.Minute, nil)
	require.NoError(t, err)

	clk.Add(time.Minute + time.Second)
	_, ok := tokens.Validate(raw, "", "")
	assert.False(t, ok)
}

func TestTokenRejectsMismatchedFilters(t *testing.T) {
	tokens, _ := newTokens(t)
	raw, err := tokens.Create("svc", "10.0.0.1", time.Minute, nil)
	require.NoError(t, err)

	_, ok := tokens.Validate(raw, "other", "")
	assert.False(t, ok)
	_, ok = tokens.Validate(raw, "", "10.0.0.2")
	assert.False(t, ok)
}

func TestTokenRejectsTamperedSignature(t *testing.T) {
	tokens, _ := newTokens(t)
	raw, err := tokens.Create("svc", "", time.Minute, nil)
	require.NoError(t, err)

	last := raw[len(raw)-2]
	swap := byte('A')
	if last == 'A' {
		swap = 'B'
	}
	tampered := raw[:len(raw)-2] + string(swap) + raw[len(raw)-1:]
	_, ok := tokens.Validate(tampered, "", "")
	assert.False(t, ok)
}

func TestTokenRejectsForeignKeyAndAlgNone(t *testing.T) {
	tokens, clk := newTokens(t)
	other, err := NewCapabilityTokens(bytes.Repeat([]byte("z"), 32), clk)
	require.NoError(t, err)
	raw, err := other.Create("svc", "", time.Minute, nil)
	require.NoError(t, err)
	_, ok := tokens.Validate(raw, "", "")
	assert.False(t, ok)

	parts := strings.Split(raw, ".")
	unsigned := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0." + parts[1] + "."
	_, ok = tokens.Validate(unsigned, "", "")
	assert.False(t, ok)

	_, ok = tokens.Validate("not-a-token", "", "")
	assert.False(t, ok)
}

func TestMintDocumentAccessGrantsExactDocument(t *testing.T) {
	tokens, _ := newTokens(t)
	raw, err := tokens.MintDocumentAccess("ptab-service", "", domain.NamespacePTAB, "IPR2024-00001", "DOC9", time.Minute)
	require.NoError(t, err)

	payload, ok := tokens.Validate(raw, "", "")
	require.True(t, ok)
	assert.True(t, payload.GrantsDocument(domain.NamespacePTAB, "IPR2024-00001", "DOC9"))
	assert.False(t, payload.GrantsDocument(domain.NamespacePTAB, "IPR2024-00001", "DOC8"))
	assert.False(t, payload.GrantsDocument(domain.NamespaceFPD, "IPR2024-00001", "DOC9"))
}

func TestNewCapabilityTokensRejectsShortKey(t *testing.T) {
	_, err := NewCapabilityTokens([]byte("short"), nil)
	assert.Error(t, err)
}

func TestSealerRoundTripWithFreshNonces(t *testing.T) {
	s, err := NewXSealer(testKey, PurposeLinks)
	require.NoError(t, err)

	a, err := s.Seal([]byte("payload"))
	require.NoError(t, err)
	b, err := s.Seal([]byte("payload"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	plain, err := s.Open(a)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(plain))
}

func TestSealerPurposesAreIndependent(t *testing.T) {
	links, err := NewXSealer(testKey, PurposeLinks)
	require.NoError(t, err)
	creds, err := NewXSealer(testKey, PurposeCredentials)
	require.NoError(t, err)

	sealed, err := links.Seal([]byte("x"))
	require.NoError(t, err)
	_, err = creds.Open(sealed)
	assert.Error(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = links.Open(sealed)
	assert.Error(t, err)
	_, err = links.Open([]byte("short"))
	assert.Error(t, err)
}

type mapStore map[string]string

func (m mapStore) Get(_ context.Context, name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", domain.ErrSecretNotFound
	}
	return v, nil
}

func (m mapStore) Put(_ context.Context, name, value string) error {
	m[name] = value
	return nil
}

func TestLoadOrCreateKeyPersistsGeneratedKey(t *testing.T) {
	store := mapStore{}
	first, err := LoadOrCreateKey(context.Background(), store, "PROXY_ENCRYPTION_KEY")
	require.NoError(t, err)
	assert.Len(t, first, 32)

	second, err := LoadOrCreateKey(context.Background(), store, "PROXY_ENCRYPTION_KEY")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadOrCreateKeyAcceptsLongPassphrase(t *testing.T) {
	store := mapStore{"INTERNAL_AUTH_SECRET": "a-shared-secret-that-is-long-enough-to-use"}
	key, err := LoadOrCreateKey(context.Background(), store, "INTERNAL_AUTH_SECRET")
	require.NoError(t, err)
	assert.Equal(t, []byte(store["INTERNAL_AUTH_SECRET"]), key)

	store["SHORT"] = "tiny"
	_, err = LoadOrCreateKey(context.Background(), store, "SHORT")
	assert.Error(t, err)
}
