// Package apierr provides shared error sentinels and classification for
// HTTP-based API clients. Providers map HTTP status codes (and transport
// failures) to these sentinels at the adapter boundary; callers check with
// errors.Is(err, apierr.ErrRateLimit) etc. rather than matching strings.
package apierr

import "errors"

// Sentinel errors for API interaction failures.
var (
	// ErrRateLimit indicates the API rate limit was exceeded (temporary, retryable).
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrQuotaExceeded indicates the API quota was exceeded (billing issue, not retryable).
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrTimeout indicates a request timed out or the connection failed transiently.
	ErrTimeout = errors.New("request timeout")

	// ErrNetwork indicates a lower-level network failure (dial/connection reset).
	ErrNetwork = errors.New("network error")

	// ErrServer indicates the remote service returned a 5xx response.
	ErrServer = errors.New("server error")

	// ErrAuthFailed indicates API authentication failed (invalid key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrBadRequest indicates a client error (4xx) that is not otherwise classified.
	ErrBadRequest = errors.New("bad request")

	// ErrUnsupportedMedia indicates the API rejected the payload's media type.
	ErrUnsupportedMedia = errors.New("unsupported media type")

	// ErrChunkCorruption indicates an extraction-side failure, surfaced by
	// the Slicer, not a transport error whose message happens to contain
	// the word "chunk" (see SPEC_FULL.md Open Question 3).
	ErrChunkCorruption = errors.New("chunk corruption")
)

// Kind is the tagged variant used for retry classification (§4.4, §9).
// Never derived from substring matching on error messages; Classify
// inspects only the wrapped sentinel chain.
type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimit
	KindNetwork
	KindTimeout
	KindServer
	KindAuth
	KindBadRequest
	KindUnsupportedMedia
	KindChunkCorruption
)

func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindServer:
		return "server"
	case KindAuth:
		return "auth"
	case KindBadRequest:
		return "bad_request"
	case KindUnsupportedMedia:
		return "unsupported_media"
	case KindChunkCorruption:
		return "chunk_corruption"
	default:
		return "unknown"
	}
}

// Classify maps a classified sentinel-wrapped error to its Kind. Adapter
// packages (speechapi, slicer) are responsible for wrapping raw errors with
// the correct sentinel; Classify never inspects error text itself.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrChunkCorruption):
		return KindChunkCorruption
	case errors.Is(err, ErrRateLimit):
		return KindRateLimit
	case errors.Is(err, ErrAuthFailed):
		return KindAuth
	case errors.Is(err, ErrUnsupportedMedia):
		return KindUnsupportedMedia
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrQuotaExceeded):
		return KindBadRequest
	case errors.Is(err, ErrServer):
		return KindServer
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	default:
		return KindUnknown
	}
}
