package application

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"lukechampine.com/blake3"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
)

const (
	linkNonceBytes  = 16
	linkHandleBytes = 16
)

type linkPlaintext struct {
	ResourceID    string    `json:"resource_id"`
	SubResourceID string    `json:"sub_resource_id"`
	IssuedAt      time.Time `json:"issued_at"`
	Nonce         []byte    `json:"nonce"`
}

// linkHandle is the hex of the first 16 bytes of the BLAKE3 digest of ct.
func linkHandle(ct []byte) string {
	sum := blake3.Sum256(ct)
	return hex.EncodeToString(sum[:linkHandleBytes])
}

// IssueLink seals the resource pair and stores it under a content-derived
// handle. Two issuances of the same pair yield different handles.
func (s *Service) IssueLink(ctx context.Context, resourceID, subResourceID, baseURL string) (domain.IssuedLink, error) {
	if err := validateLinkTarget(resourceID, subResourceID); err != nil {
		return domain.IssuedLink{}, err
	}
	if baseURL == "" {
		baseURL = s.cfg.PublicBaseURL
	}
	now := s.now()
	nonce := make([]byte, linkNonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return domain.IssuedLink{}, fmt.Errorf("link nonce: %w", err)
	}
	plain, err := json.Marshal(linkPlaintext{
		ResourceID:    resourceID,
		SubResourceID: subResourceID,
		IssuedAt:      now,
		Nonce:         nonce,
	})
	if err != nil {
		return domain.IssuedLink{}, err
	}
	ct, err := s.linkSealer.Seal(plain)
	if err != nil {
		return domain.IssuedLink{}, fmt.Errorf("seal link: %w", err)
	}
	rec := domain.LinkRecord{
		Handle:     linkHandle(ct),
		Ciphertext: ct,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.LinkTTL),
	}
	if err := s.links.Create(ctx, rec); err != nil {
		return domain.IssuedLink{}, fmt.Errorf("store link: %w", err)
	}
	return domain.IssuedLink{
		URL:       strings.TrimRight(baseURL, "/") + "/document/persistent/" + rec.Handle,
		Handle:    rec.Handle,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// IssueLinkWithToken issues a link for callers holding a link_issue capability.
func (s *Service) IssueLinkWithToken(ctx context.Context, req IssueLinkRequest) (domain.IssuedLink, error) {
	payload, ok := s.tokens.Validate(req.AuthToken, "", "")
	if !ok || payload.MetadataType() != domain.TokenTypeLinkIssue {
		return domain.IssuedLink{}, fmt.Errorf("%w: token does not grant link issuance", domain.ErrUnauthorized)
	}
	if scoped, ok := payload.Metadata["resource_id"]; ok && scoped != req.ResourceID {
		return domain.IssuedLink{}, fmt.Errorf("%w: token is scoped to another resource", domain.ErrUnauthorized)
	}
	return s.IssueLink(ctx, req.ResourceID, req.SubResourceID, "")
}

// ResolveLink returns the resource pair behind handle and records the access.
// Unknown, expired, and undecryptable handles all report domain.ErrNotFound;
// undecryptable records are deleted.
func (s *Service) ResolveLink(ctx context.Context, handle string) (domain.LinkTarget, error) {
	if !domain.IsLinkHandle(handle) {
		return domain.LinkTarget{}, domain.ErrNotFound
	}
	rec, err := s.links.Get(ctx, handle)
	if err != nil {
		return domain.LinkTarget{}, err
	}
	if rec.Expired(s.now()) {
		return domain.LinkTarget{}, domain.ErrNotFound
	}
	target, err := s.openLink(rec)
	if err != nil {
		s.logger.WarnContext(ctx, "discarding undecryptable link",
			"module", "application",
			"layer", "application",
			"operation", "resolve_link",
			"outcome", "corrupt",
			"handle", handle,
			"error", err,
		)
		_ = s.links.Delete(ctx, handle)
		return domain.LinkTarget{}, domain.ErrNotFound
	}
	if _, err := s.links.Touch(ctx, handle, s.now()); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.LinkTarget{}, fmt.Errorf("record link access: %w", err)
	}
	return target, nil
}

func (s *Service) openLink(rec domain.LinkRecord) (domain.LinkTarget, error) {
	plain, err := s.linkSealer.Open(rec.Ciphertext)
	if err != nil {
		return domain.LinkTarget{}, fmt.Errorf("%w: %v", domain.ErrCorruptRecord, err)
	}
	var p linkPlaintext
	if err := json.Unmarshal(plain, &p); err != nil || p.ResourceID == "" || p.SubResourceID == "" {
		return domain.LinkTarget{}, domain.ErrCorruptRecord
	}
	return domain.LinkTarget{ResourceID: p.ResourceID, SubResourceID: p.SubResourceID}, nil
}

func (s *Service) SweepLinks(ctx context.Context) (int, error) {
	return s.links.DeleteExpired(ctx, s.now())
}

func (s *Service) LinkStats(ctx context.Context) (LinkStatsResult, error) {
	stats, err := s.links.Stats(ctx, s.now())
	if err != nil {
		return LinkStatsResult{}, err
	}
	return LinkStatsResult{LinkStats: stats, TTLSeconds: int64(s.cfg.LinkTTL / time.Second)}, nil
}

// validateLinkTarget accepts application numbers and registry owner ids as
// resources, and filing-style document ids as sub-resources.
func validateLinkTarget(resourceID, subResourceID string) error {
	if resourceID == "" || subResourceID == "" {
		return fmt.Errorf("%w: resource_id and sub_resource_id are required", domain.ErrInvalidInput)
	}
	if err := domain.ValidateDocumentID(subResourceID); err != nil {
		return err
	}
	if _, ok := domain.NamespaceForOwner(resourceID); ok {
		return nil
	}
	if _, err := domain.NormalizeApplicationNumber(resourceID); err != nil {
		return err
	}
	return nil
}

func downloadURL(base, ownerID, documentID string) string {
	return strings.TrimRight(base, "/") + "/download/" + url.PathEscape(ownerID) + "/" + url.PathEscape(documentID)
}
