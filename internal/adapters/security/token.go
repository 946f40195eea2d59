package security

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
)

// DefaultTokenTTL is used when Create is called with a non-positive ttl.
const DefaultTokenTTL = 5 * time.Minute

// CapabilityTokens mints and verifies HS256 capability tokens shared between
// the gateway and the services that register documents with it.
type CapabilityTokens struct {
	key    []byte
	clock  clock.Clock
	parser *jwt.Parser
}

type capabilityClaims struct {
	ClientBinding string            `json:"client_binding,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	jwt.RegisteredClaims
}

func NewCapabilityTokens(key []byte, clk clock.Clock) (*CapabilityTokens, error) {
	if len(key) < 32 {
		return nil, errors.New("capability token key must be at least 32 bytes")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &CapabilityTokens{
		key:   key,
		clock: clk,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithTimeFunc(clk.Now),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		),
	}, nil
}

func (t *CapabilityTokens) Create(service, binding string, ttl time.Duration, metadata map[string]string) (string, error) {
	if service == "" {
		return "", fmt.Errorf("%w: token service is required", domain.ErrInvalidInput)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := t.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, capabilityClaims{
		ClientBinding: binding,
		Metadata:      metadata,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    service,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(t.key)
}

// Validate verifies the signature before any claim is trusted, then expiry,
// then the optional service and binding filters.
func (t *CapabilityTokens) Validate(raw, expectedService, expectedBinding string) (domain.TokenPayload, bool) {
	claims := &capabilityClaims{}
	parsed, err := t.parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return t.key, nil
	})
	if err != nil || !parsed.Valid {
		return domain.TokenPayload{}, false
	}
	if expectedService != "" && !constantTimeEqual(claims.Issuer, expectedService) {
		return domain.TokenPayload{}, false
	}
	if expectedBinding != "" && !constantTimeEqual(claims.ClientBinding, expectedBinding) {
		return domain.TokenPayload{}, false
	}

	payload := domain.TokenPayload{
		Service:       claims.Issuer,
		ClientBinding: claims.ClientBinding,
		Metadata:      claims.Metadata,
	}
	if claims.IssuedAt != nil {
		payload.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		payload.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	if payload.Metadata == nil {
		payload.Metadata = map[string]string{}
	}
	return payload, true
}

// MintDocumentAccess creates a token granting registration of exactly one document.
func (t *CapabilityTokens) MintDocumentAccess(service, binding string, ns domain.Namespace, ownerID, documentID string, ttl time.Duration) (string, error) {
	return t.Create(service, binding, ttl, map[string]string{
		"type":        domain.TokenTypeDocumentAccess,
		"namespace":   string(ns),
		"owner_id":    ownerID,
		"document_id": documentID,
	})
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
