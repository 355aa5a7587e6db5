// Package apperr models the error taxonomy used across the ingest and
// search pipeline: a small set of sentinel errors, wrapped with context via
// fmt.Errorf and inspected with errors.Is/errors.As, never matched on
// error strings.
package apperr

import (
	"errors"
	"fmt"
)

// Sentinel taxonomy members. Each is fatal or recoverable at a specific
// scope as described in package docs of the callers (upstream, media,
// decode, repositories).
var (
	// ErrUpstreamAuth is bad credentials or a banned account. Fatal for
	// the calling job; never retried.
	ErrUpstreamAuth = errors.New("upstream auth failed")

	// ErrUpstreamTransient is three or more consecutive HTTP/network
	// failures. Fails the current batch; the next schedule tick retries.
	ErrUpstreamTransient = errors.New("upstream transient failure")

	// ErrUpstreamNotFound is a 404 on a post or media resource.
	ErrUpstreamNotFound = errors.New("upstream resource not found")

	// ErrMediaIO is a local filesystem error reading or writing media.
	ErrMediaIO = errors.New("media io error")

	// ErrDecode is a still-image or video-frame decode failure.
	ErrDecode = errors.New("decode error")

	// ErrRepository is a database failure; the caller rolls back the
	// enclosing transaction.
	ErrRepository = errors.New("repository error")

	// ErrInvalidImage is a user-supplied search image that failed to
	// decode. Maps to HTTP 400.
	ErrInvalidImage = errors.New("invalid image")
)

// Wrap attaches context to a sentinel error while keeping it matchable
// with errors.Is.
func Wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}

// CorrelationID is attached to Internal-taxonomy errors so it can be
// echoed back to a caller without leaking details. On the HTTP path the
// request id is generated by internal/middleware.Observability, which
// returns it in the X-Request-ID header and logs it with request errors.
type CorrelationID string
