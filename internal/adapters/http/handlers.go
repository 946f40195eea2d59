package http

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/adapters/events"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/application"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
)

const streamChunkBytes = 32 << 10

type registerRequest struct {
	Namespace         string `json:"namespace" validate:"omitempty,oneof=fpd ptab"`
	OwnerID           string `json:"owner_id" validate:"required,max=64"`
	DocumentID        string `json:"document_id" validate:"required,max=128"`
	FetchURL          string `json:"fetch_url" validate:"required,url,startswith=https://,max=2048"`
	AuthToken         string `json:"auth_token" validate:"required"`
	DisplayName       string `json:"display_name,omitempty" validate:"omitempty,max=255"`
	ApplicationNumber string `json:"application_number,omitempty" validate:"omitempty,max=32"`
	PatentNumber      string `json:"patent_number,omitempty" validate:"omitempty,max=16"`
	DocumentType      string `json:"document_type,omitempty" validate:"omitempty,max=64"`
}

type registerResponse struct {
	Success bool `json:"success"`
	application.RegisterResult
}

type issueLinkRequest struct {
	AuthToken     string `json:"auth_token" validate:"required"`
	ResourceID    string `json:"resource_id" validate:"required,max=64"`
	SubResourceID string `json:"sub_resource_id" validate:"required,max=128"`
}

type cleanupResponse struct {
	LinksRemoved     int `json:"links_removed"`
	DocumentsRemoved int `json:"documents_removed"`
}

type rateLimitResponse struct {
	IP            string    `json:"ip"`
	Limit         int       `json:"limit"`
	Remaining     int       `json:"remaining"`
	WindowSeconds int64     `json:"window_seconds"`
	ResetTime     time.Time `json:"reset_time"`
}

type probeResponse struct {
	Status string `json:"status"`
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	id, subID := chi.URLParam(r, "id"), chi.URLParam(r, "sub_id")
	target, err := h.service.ResolveDownload(r.Context(), id, subID)
	if err != nil {
		h.writeMappedError(w, r, "resolve_download", err)
		return
	}
	h.stream(w, r, target)
}

func (h *Handler) persistentDownload(w http.ResponseWriter, r *http.Request) {
	target, err := h.service.ResolvePersistent(r.Context(), chi.URLParam(r, "handle"))
	if err != nil {
		h.writeMappedError(w, r, "resolve_persistent_link", err)
		return
	}
	h.stream(w, r, target)
}

// stream copies the upstream body to the caller without buffering it whole.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request, target domain.DownloadTarget) {
	doc, err := h.service.OpenDownload(r.Context(), target)
	if err != nil {
		h.writeMappedError(w, r, "open_download", err)
		return
	}
	defer doc.Body.Close()

	for k, v := range target.Headers() {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", doc.ContentType)
	if doc.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(doc.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)

	h.audit(r, events.AuditDownloadAccess, map[string]any{
		"source":      target.Source,
		"resource_id": target.ResourceID,
		"document_id": target.DocumentID,
	})

	buf := make([]byte, streamChunkBytes)
	flusher, _ := w.(http.Flusher)
	for {
		n, readErr := doc.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) && !errors.Is(readErr, context.Canceled) {
				logHTTPOperationError(r.Context(), "stream_download", http.StatusBadGateway, "upstream stream interrupted", readErr)
			}
			return
		}
	}
}

func (h *Handler) registerDocument(w http.ResponseWriter, r *http.Request) {
	h.register(w, r, "")
}

func (h *Handler) registerNamespaced(ns string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.register(w, r, ns)
	}
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request, fixedNamespace string) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		h.audit(r, events.AuditValidationError, map[string]any{"path": r.URL.Path})
		h.writeMappedError(w, r, "register_document", err)
		return
	}
	if fixedNamespace != "" {
		req.Namespace = fixedNamespace
	}
	if req.Namespace == "" {
		h.audit(r, events.AuditValidationError, map[string]any{"path": r.URL.Path, "field": "namespace"})
		h.writeError(w, r, http.StatusBadRequest, "invalid request: namespace failed required", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		msg := validationMessage(err)
		h.audit(r, events.AuditValidationError, map[string]any{"path": r.URL.Path, "message": msg})
		logHTTPOperationError(r.Context(), "register_document", http.StatusBadRequest, msg, err)
		h.writeError(w, r, http.StatusBadRequest, msg, nil)
		return
	}

	res, err := h.service.RegisterDocument(r.Context(), application.RegisterRequest{
		Namespace:         req.Namespace,
		OwnerID:           req.OwnerID,
		DocumentID:        req.DocumentID,
		FetchURL:          req.FetchURL,
		AuthToken:         req.AuthToken,
		DisplayName:       req.DisplayName,
		ApplicationNumber: req.ApplicationNumber,
		PatentNumber:      req.PatentNumber,
		DocumentType:      req.DocumentType,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnauthorized):
			h.audit(r, events.AuditAuthFailure, map[string]any{"path": r.URL.Path, "namespace": req.Namespace, "owner_id": req.OwnerID})
		case errors.Is(err, domain.ErrInvalidInput):
			h.audit(r, events.AuditValidationError, map[string]any{"path": r.URL.Path, "message": err.Error()})
		}
		h.writeMappedError(w, r, "register_document", err)
		return
	}
	h.audit(r, events.AuditDocumentRegistered, map[string]any{
		"namespace":   string(res.Namespace),
		"owner_id":    res.OwnerID,
		"document_id": res.DocumentID,
	})
	writeJSON(w, http.StatusOK, registerResponse{Success: true, RegisterResult: res})
}

func (h *Handler) issuePersistentLink(w http.ResponseWriter, r *http.Request) {
	var req issueLinkRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeMappedError(w, r, "issue_persistent_link", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		msg := validationMessage(err)
		h.audit(r, events.AuditValidationError, map[string]any{"path": r.URL.Path, "message": msg})
		h.writeError(w, r, http.StatusBadRequest, msg, nil)
		return
	}
	link, err := h.service.IssueLinkWithToken(r.Context(), application.IssueLinkRequest{
		AuthToken:     req.AuthToken,
		ResourceID:    req.ResourceID,
		SubResourceID: req.SubResourceID,
	})
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			h.audit(r, events.AuditAuthFailure, map[string]any{"path": r.URL.Path})
		}
		h.writeMappedError(w, r, "issue_persistent_link", err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	report := h.service.Health(r.Context())
	status := http.StatusOK
	if !report.Serving() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probeResponse{Status: "ok"})
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ready(r.Context()); err != nil {
		logHTTPOperationError(r.Context(), "readiness", http.StatusServiceUnavailable, "link store unavailable", err)
		h.writeError(w, r, http.StatusServiceUnavailable, "link store unavailable", nil)
		return
	}
	writeJSON(w, http.StatusOK, probeResponse{Status: "ready"})
}

func (h *Handler) cacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.LinkStats(r.Context())
	if err != nil {
		h.writeMappedError(w, r, "link_stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) cacheCleanup(w http.ResponseWriter, r *http.Request) {
	links, err := h.service.SweepLinks(r.Context())
	if err != nil {
		h.writeMappedError(w, r, "sweep_links", err)
		return
	}
	documents, err := h.service.SweepDocuments(r.Context())
	if err != nil {
		h.writeMappedError(w, r, "sweep_documents", err)
		return
	}
	writeJSON(w, http.StatusOK, cleanupResponse{LinksRemoved: links, DocumentsRemoved: documents})
}

func (h *Handler) rateLimitStatus(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if net.ParseIP(ip) == nil {
		h.writeError(w, r, http.StatusBadRequest, "ip must be an IPv4 or IPv6 address", nil)
		return
	}
	cfg := h.limiter.Config()
	writeJSON(w, http.StatusOK, rateLimitResponse{
		IP:            ip,
		Limit:         cfg.MaxRequests,
		Remaining:     h.limiter.Remaining(ip),
		WindowSeconds: int64(cfg.Window / time.Second),
		ResetTime:     h.limiter.ResetTime(ip).UTC(),
	})
}

func (h *Handler) registryStats(w http.ResponseWriter, r *http.Request) {
	ns, err := domain.ParseNamespace(chi.URLParam(r, "namespace"))
	if err != nil {
		h.writeMappedError(w, r, "registry_stats", err)
		return
	}
	stats, err := h.service.RegistryStats(r.Context(), ns)
	if err != nil {
		h.writeMappedError(w, r, "registry_stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
