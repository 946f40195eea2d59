package ports

import (
	"context"
	"io"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/resilience"
)

// FilingLocation is where the filing API serves one document.
type FilingLocation struct {
	FetchURL     string
	DocumentCode string
	PageCount    int
}

// FilingLocator is the gateway's primary lookup for native application documents.
type FilingLocator interface {
	Locate(ctx context.Context, applicationNumber, documentID, credential string) (FilingLocation, error)
}

// DocumentStream is an open upstream body. Callers must close Body.
type DocumentStream struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// DocumentFetcher opens a streaming download from the upstream.
type DocumentFetcher interface {
	Open(ctx context.Context, fetchURL, credential string) (DocumentStream, error)
}

// UpstreamStats is the state of the fault-tolerance primitives around the upstream.
type UpstreamStats struct {
	Breaker resilience.BreakerSnapshot
	Cache   resilience.CacheStats
	Budget  resilience.BudgetStats
}

type UpstreamMonitor interface {
	Stats() UpstreamStats
}
