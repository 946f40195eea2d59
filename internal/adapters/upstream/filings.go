package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/ports"
)

const apiKeyHeader = "X-API-KEY"

// FilingClient talks to the patent file wrapper API through a resilient Client.
type FilingClient struct {
	client  *Client
	baseURL string
	logger  *slog.Logger
}

// NewFilingClient binds the applications endpoint, e.g.
// https://api.uspto.gov/api/v1/patent/applications.
func NewFilingClient(client *Client, baseURL string, logger *slog.Logger) *FilingClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilingClient{client: client, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

type documentsResponse struct {
	DocumentBag []struct {
		DocumentIdentifier string `json:"documentIdentifier"`
		DocumentCode       string `json:"documentCode"`
		DownloadOptionBag  []struct {
			MimeTypeIdentifier string `json:"mimeTypeIdentifier"`
			DownloadURL        string `json:"downloadUrl"`
			PageTotalQuantity  int    `json:"pageTotalQuantity"`
		} `json:"downloadOptionBag"`
	} `json:"documentBag"`
}

// Locate finds the PDF download URL for one document of an application.
func (f *FilingClient) Locate(ctx context.Context, applicationNumber, documentID, credential string) (ports.FilingLocation, error) {
	res := f.client.Do(ctx, Request{
		Method:   http.MethodGet,
		URL:      fmt.Sprintf("%s/%s/documents", f.baseURL, url.PathEscape(applicationNumber)),
		Header:   http.Header{apiKeyHeader: []string{credential}},
		Endpoint: "documents",
		Params:   map[string]string{"application_number": applicationNumber},
		Tier:     TierMetadata,
	})
	if !res.OK() {
		return ports.FilingLocation{}, fmt.Errorf("list documents for %s: %w", applicationNumber, res.Err())
	}
	if res.Fallback {
		f.logger.WarnContext(ctx, "document list served from cache",
			"module", "upstream",
			"layer", "adapter",
			"operation", "locate_document",
			"outcome", "fallback",
			"application_number", applicationNumber,
			"breaker_state", res.BreakerState.String(),
		)
	}

	var payload documentsResponse
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		return ports.FilingLocation{}, fmt.Errorf("%w: decode document list: %v", domain.ErrUpstream, err)
	}
	for _, doc := range payload.DocumentBag {
		if doc.DocumentIdentifier != documentID {
			continue
		}
		for _, opt := range doc.DownloadOptionBag {
			if strings.EqualFold(opt.MimeTypeIdentifier, "PDF") && opt.DownloadURL != "" {
				return ports.FilingLocation{
					FetchURL:     opt.DownloadURL,
					DocumentCode: doc.DocumentCode,
					PageCount:    opt.PageTotalQuantity,
				}, nil
			}
		}
		return ports.FilingLocation{}, fmt.Errorf("%w: document %s has no PDF download", domain.ErrNotFound, documentID)
	}
	return ports.FilingLocation{}, fmt.Errorf("%w: document %s not in application %s", domain.ErrNotFound, documentID, applicationNumber)
}

// Open starts streaming fetchURL with the gateway credential.
func (f *FilingClient) Open(ctx context.Context, fetchURL, credential string) (ports.DocumentStream, error) {
	header := http.Header{"Accept": []string{"application/pdf"}}
	if credential != "" {
		header.Set(apiKeyHeader, credential)
	}
	resp, failure := f.client.Stream(ctx, Request{
		Method:   http.MethodGet,
		URL:      fetchURL,
		Header:   header,
		Endpoint: "download",
		Tier:     TierDownload,
	})
	if failure != nil {
		return ports.DocumentStream{}, fmt.Errorf("open download: %w", failure)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/pdf"
	}
	return ports.DocumentStream{
		Body:          resp.Body,
		ContentType:   contentType,
		ContentLength: resp.ContentLength,
	}, nil
}
