package domain

import "errors"

// Error taxonomy for the streaming engine. Callers classify with errors.Is;
// adapters wrap these with provider detail via fmt.Errorf("...: %w", ...).
var (
	// ErrInvalidCoordinate means the input coordinate is malformed or out of
	// range. Rejected before any cache or upstream work.
	ErrInvalidCoordinate = errors.New("invalid coordinate")

	// ErrUpstreamUnavailable is a transient provider failure: timeout, 5xx,
	// network error, or an open circuit breaker. Retried once by the cache
	// layer, then surfaced as a recoverable stream event.
	ErrUpstreamUnavailable = errors.New("upstream weather provider unavailable")

	// ErrUpstreamRejected means the provider rejected the request itself
	// (4xx). Never retried: the input cannot become valid by waiting.
	ErrUpstreamRejected = errors.New("upstream weather provider rejected request")

	// ErrRateLimited is returned when an identity exceeds its admission
	// window. Raised before any upstream work is attempted.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidObservation flags an observation that violates the upstream
	// contract (non-finite or negative measurements). Logged and treated as
	// ErrUpstreamUnavailable by callers.
	ErrInvalidObservation = errors.New("invalid observation")
)
