package rate

import "errors"

var (
	// ErrBackendUnavailable indicates the limiter's Redis backend is unreachable.
	ErrBackendUnavailable = errors.New("rate limit backend unavailable")
)
