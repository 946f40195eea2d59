package upstream

import (
	"fmt"
	"net/http"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/resilience"
)

// FailureKind classifies why an upstream call did not succeed.
type FailureKind int

const (
	// FailureClient is a 4xx-class response caused by the request itself.
	FailureClient FailureKind = iota + 1
	// FailureAuth is a 401/403 on the gateway's own credential.
	FailureAuth
	FailureTimeout
	// FailureUpstream is a 5xx, 429, or transport error.
	FailureUpstream
	// FailureUnavailable means the breaker denied the call and nothing was cached.
	FailureUnavailable
	FailureGeneric
)

func (k FailureKind) String() string {
	switch k {
	case FailureClient:
		return "client"
	case FailureAuth:
		return "auth"
	case FailureTimeout:
		return "timeout"
	case FailureUpstream:
		return "upstream"
	case FailureUnavailable:
		return "unavailable"
	case FailureGeneric:
		return "generic"
	default:
		return "unknown"
	}
}

// Failure is the typed outcome of a call that did not succeed.
type Failure struct {
	Kind       FailureKind
	StatusCode int
	Attempts   int
	Err        error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("upstream %s failure", f.Kind)
	if f.StatusCode > 0 {
		msg += fmt.Sprintf(" (status %d)", f.StatusCode)
	}
	if f.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", f.Attempts)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

// Unwrap exposes the domain sentinel for the failure kind alongside the cause.
func (f *Failure) Unwrap() []error {
	errs := []error{f.sentinel()}
	if f.Err != nil {
		errs = append(errs, f.Err)
	}
	return errs
}

func (f *Failure) sentinel() error {
	switch f.Kind {
	case FailureClient:
		if f.StatusCode == http.StatusNotFound {
			return domain.ErrNotFound
		}
		return domain.ErrUpstream
	case FailureAuth:
		return domain.ErrUpstreamAuth
	case FailureTimeout:
		return domain.ErrUpstreamTimeout
	case FailureUnavailable:
		return domain.ErrUnavailable
	default:
		return domain.ErrUpstream
	}
}

func (f *Failure) retryable() bool {
	return f.Kind == FailureTimeout || f.Kind == FailureUpstream
}

// Result is the outcome of Client.Do. Exactly one of Body or Failure is meaningful.
type Result struct {
	Body       []byte
	StatusCode int
	Attempts   int
	// Fallback is set when Body came from the response cache because the breaker denied the call.
	Fallback     bool
	BreakerState resilience.State
	Failure      *Failure
}

func (r Result) OK() bool {
	return r.Failure == nil
}

// Err returns the failure as an error, or nil.
func (r Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

// classifyStatus maps a non-2xx HTTP status to a failure kind.
func classifyStatus(status int) FailureKind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return FailureAuth
	case status == http.StatusTooManyRequests:
		return FailureUpstream
	case status >= 400 && status < 500:
		return FailureClient
	default:
		return FailureUpstream
	}
}
