package application

import (
	"context"
	"fmt"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/ports"
)

// ResolveDownload routes /download/{id}/{sub_id}: link handles first, then
// registry namespaces in priority order, then native application numbers.
func (s *Service) ResolveDownload(ctx context.Context, id, subID string) (domain.DownloadTarget, error) {
	if domain.IsLinkHandle(id) {
		return s.ResolvePersistent(ctx, id)
	}
	return s.resolveDirect(ctx, id, subID)
}

// ResolvePersistent resolves a link handle and routes its resource pair.
func (s *Service) ResolvePersistent(ctx context.Context, handle string) (domain.DownloadTarget, error) {
	target, err := s.ResolveLink(ctx, handle)
	if err != nil {
		return domain.DownloadTarget{}, err
	}
	return s.resolveDirect(ctx, target.ResourceID, target.SubResourceID)
}

func (s *Service) resolveDirect(ctx context.Context, id, subID string) (domain.DownloadTarget, error) {
	if ns, ok := domain.NamespaceForOwner(id); ok {
		return s.resolveRegistered(ctx, ns, id, subID)
	}
	return s.resolveNative(ctx, id, subID)
}

func (s *Service) resolveRegistered(ctx context.Context, ns domain.Namespace, ownerID, documentID string) (domain.DownloadTarget, error) {
	rec, err := s.LookupDocument(ctx, ns, ownerID, documentID)
	if err != nil {
		return domain.DownloadTarget{}, err
	}
	credential, err := s.credSealer.Open(rec.SealedCredential)
	if err != nil {
		return domain.DownloadTarget{}, fmt.Errorf("%w: registry credential for %s/%s", domain.ErrCorruptRecord, ownerID, documentID)
	}
	filename := rec.DisplayName
	if filename == "" {
		filename = domain.FallbackFilename(ns.Source(), ownerID, documentID, rec.ApplicationNumber, rec.PatentNumber, "")
	}
	return domain.DownloadTarget{
		Source:            ns.Source(),
		ResourceID:        ownerID,
		DocumentID:        documentID,
		FetchURL:          rec.FetchURL,
		Credential:        string(credential),
		Filename:          filename,
		ApplicationNumber: rec.ApplicationNumber,
		PatentNumber:      rec.PatentNumber,
	}, nil
}

func (s *Service) resolveNative(ctx context.Context, rawApp, documentID string) (domain.DownloadTarget, error) {
	app, err := domain.NormalizeApplicationNumber(rawApp)
	if err != nil {
		return domain.DownloadTarget{}, err
	}
	if err := domain.ValidateDocumentID(documentID); err != nil {
		return domain.DownloadTarget{}, err
	}
	credential, err := s.gatewayCredential(ctx)
	if err != nil {
		return domain.DownloadTarget{}, err
	}
	loc, err := s.locator.Locate(ctx, app, documentID, credential)
	if err != nil {
		return domain.DownloadTarget{}, err
	}
	return domain.DownloadTarget{
		Source:            domain.SourceNative,
		ResourceID:        app,
		DocumentID:        documentID,
		FetchURL:          loc.FetchURL,
		Credential:        credential,
		Filename:          domain.FallbackFilename(domain.SourceNative, app, documentID, app, "", loc.DocumentCode),
		ApplicationNumber: app,
		DocumentCode:      loc.DocumentCode,
		PageCount:         loc.PageCount,
	}, nil
}

// OpenDownload starts the upstream stream for a resolved target. The caller
// closes the returned body.
func (s *Service) OpenDownload(ctx context.Context, target domain.DownloadTarget) (ports.DocumentStream, error) {
	stream, err := s.fetcher.Open(ctx, target.FetchURL, target.Credential)
	if err != nil {
		return ports.DocumentStream{}, fmt.Errorf("download %s/%s: %w", target.ResourceID, target.DocumentID, err)
	}
	return stream, nil
}
