package domain

import "errors"

var (
	// ErrNotFound is returned when a document, link, or registry record does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidInput covers malformed ids, bodies, and URLs.
	// These are never retried and never counted against the breaker.
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrRateLimited     = errors.New("rate limited")
	// ErrUpstreamAuth means the filing API rejected the gateway's own credential.
	ErrUpstreamAuth    = errors.New("upstream authentication failed")
	ErrUpstream        = errors.New("upstream error")
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrUnavailable is returned while the breaker is open and no cached copy exists.
	ErrUnavailable = errors.New("service unavailable")
	// ErrCorruptRecord marks persisted ciphertext that no longer decrypts.
	ErrCorruptRecord  = errors.New("corrupt record")
	ErrSecretNotFound = errors.New("secret not found")
	ErrReadOnly       = errors.New("secret store is read-only")
)
