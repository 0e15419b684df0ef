package models

import "errors"

// Delivery pipeline error taxonomy. Handlers map these onto HTTP statuses;
// the playback engine maps them onto retry and fallback decisions.
var (
	// ErrNotFound means the title is unknown to the catalog.
	ErrNotFound = errors.New("title not found")

	// ErrNoVariantsAvailable means the title exists but has no configured
	// quality variants.
	ErrNoVariantsAvailable = errors.New("no variants available")

	// ErrInvalidVariant means the requested quality is not configured for
	// the title.
	ErrInvalidVariant = errors.New("invalid variant")

	// ErrUnsupported means no offered variant is playable by the client.
	ErrUnsupported = errors.New("no supported variant")

	// ErrSegmentNotFound means the origin store has no such segment.
	ErrSegmentNotFound = errors.New("segment not found")

	// ErrUpstreamTimeout means the origin store did not answer in time.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrUpstreamUnavailable means the origin store answered with a server
	// error or refused the connection.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrGrantExpired means the download grant's expiry has passed.
	ErrGrantExpired = errors.New("download grant expired")

	// ErrGrantInvalidSignature means the grant signature does not verify.
	ErrGrantInvalidSignature = errors.New("download grant signature invalid")
)

// Retryable reports whether an error is transient and worth retrying.
// Authorization and not-found errors are never retried.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrUpstreamTimeout), errors.Is(err, ErrUpstreamUnavailable):
		return true
	default:
		return false
	}
}
