package llm

import (
	"errors"
	"net"
)

var (
	ErrUnauthorized = errors.New("llm unauthorized")
	ErrUnavailable  = errors.New("llm unavailable")
	ErrRateLimited  = errors.New("llm rate limited")
)

// IsTransient reports whether an error from StreamChat is worth retrying
// with backoff. Rate limits, service unavailability, and network timeouts
// qualify; everything else is permanent for the current turn.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
