package application

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
)

// RegisterDocument stores a document offered by an origin service. The token
// must grant document_access for exactly this (namespace, owner, document).
func (s *Service) RegisterDocument(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	ns, err := domain.ParseNamespace(req.Namespace)
	if err != nil {
		return RegisterResult{}, err
	}
	payload, ok := s.tokens.Validate(req.AuthToken, "", "")
	if !ok {
		return RegisterResult{}, fmt.Errorf("%w: invalid or expired token", domain.ErrUnauthorized)
	}
	if !payload.GrantsDocument(ns, req.OwnerID, req.DocumentID) {
		return RegisterResult{}, fmt.Errorf("%w: token does not grant this document", domain.ErrUnauthorized)
	}

	if !ns.MatchesOwner(req.OwnerID) {
		return RegisterResult{}, fmt.Errorf("%w: owner id %q is not a valid %s identifier", domain.ErrInvalidInput, req.OwnerID, ns)
	}
	if err := domain.ValidateDocumentID(req.DocumentID); err != nil {
		return RegisterResult{}, err
	}
	if err := s.validateFetchURL(req.FetchURL); err != nil {
		return RegisterResult{}, err
	}
	if err := domain.ValidateDisplayName(req.DisplayName); err != nil {
		return RegisterResult{}, err
	}
	patentNumber := strings.TrimSpace(req.PatentNumber)
	if err := domain.ValidatePatentNumber(patentNumber); err != nil {
		return RegisterResult{}, err
	}
	documentType := strings.TrimSpace(req.DocumentType)
	if err := domain.ValidateDocumentType(documentType); err != nil {
		return RegisterResult{}, err
	}
	appNumber := ""
	if req.ApplicationNumber != "" {
		if appNumber, err = domain.NormalizeApplicationNumber(req.ApplicationNumber); err != nil {
			return RegisterResult{}, err
		}
	}

	credential, err := s.gatewayCredential(ctx)
	if err != nil {
		return RegisterResult{}, err
	}
	sealed, err := s.credSealer.Seal([]byte(credential))
	if err != nil {
		return RegisterResult{}, fmt.Errorf("seal credential: %w", err)
	}

	now := s.now()
	rec := domain.DocumentRecord{
		Namespace:         ns,
		OwnerID:           req.OwnerID,
		DocumentID:        req.DocumentID,
		FetchURL:          req.FetchURL,
		SealedCredential:  sealed,
		DisplayName:       req.DisplayName,
		ApplicationNumber: appNumber,
		PatentNumber:      patentNumber,
		DocumentType:      documentType,
		RegisteredAt:      now,
		ExpiresAt:         now.Add(s.cfg.RegistryTTL),
	}
	if err := s.documents.Upsert(ctx, rec); err != nil {
		return RegisterResult{}, fmt.Errorf("store registration: %w", err)
	}
	s.logger.InfoContext(ctx, "document registered",
		"module", "application",
		"layer", "application",
		"operation", "register_document",
		"outcome", "success",
		"namespace", string(ns),
		"owner_id", rec.OwnerID,
		"document_id", rec.DocumentID,
	)
	return RegisterResult{
		URL:        downloadURL(s.cfg.PublicBaseURL, rec.OwnerID, rec.DocumentID),
		Namespace:  ns,
		OwnerID:    rec.OwnerID,
		DocumentID: rec.DocumentID,
		ExpiresAt:  rec.ExpiresAt,
	}, nil
}

// LookupDocument returns a live registry record; expired records are not found.
func (s *Service) LookupDocument(ctx context.Context, ns domain.Namespace, ownerID, documentID string) (domain.DocumentRecord, error) {
	rec, err := s.documents.Get(ctx, ns, ownerID, documentID)
	if err != nil {
		return domain.DocumentRecord{}, err
	}
	if rec.Expired(s.now()) {
		return domain.DocumentRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *Service) RegistryStats(ctx context.Context, ns domain.Namespace) (domain.RegistryStats, error) {
	return s.documents.Stats(ctx, ns, s.now())
}

func (s *Service) SweepDocuments(ctx context.Context) (int, error) {
	return s.documents.DeleteExpired(ctx, s.now())
}

// validateFetchURL requires HTTPS to the upstream domain or one of its subdomains.
func (s *Service) validateFetchURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.User != nil {
		return fmt.Errorf("%w: fetch_url must be an https URL", domain.ErrInvalidInput)
	}
	host := strings.ToLower(u.Hostname())
	allowed := strings.ToLower(s.cfg.UpstreamDomain)
	if host != allowed && !strings.HasSuffix(host, "."+allowed) {
		return fmt.Errorf("%w: fetch_url host must be under %s", domain.ErrInvalidInput, allowed)
	}
	return nil
}

func (s *Service) gatewayCredential(ctx context.Context) (string, error) {
	credential, err := s.secrets.Get(ctx, s.cfg.CredentialSecret)
	if errors.Is(err, domain.ErrSecretNotFound) || (err == nil && credential == "") {
		return "", fmt.Errorf("%w: upstream credential %s is not configured", domain.ErrUnavailable, s.cfg.CredentialSecret)
	}
	if err != nil {
		return "", fmt.Errorf("read upstream credential: %w", err)
	}
	return credential, nil
}
