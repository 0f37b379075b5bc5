package scraper

import (
	"context"
	"errors"
)

// Error kinds surfaced by the core. Callers classify with errors.Is; the HTTP
// layer maps each kind to a status code.
var (
	// ErrStartup means the browser process could not be launched.
	ErrStartup = errors.New("browser startup failed")
	// ErrNavigation means the target URL was invalid or unreachable.
	ErrNavigation = errors.New("navigation failed")
	// ErrTimeout means navigation or content read exceeded its bound.
	ErrTimeout = errors.New("operation timed out")
	// ErrStructure means the search results anchor was not found in the page.
	ErrStructure = errors.New("unexpected page structure")
	// ErrValidation means the request fields were malformed.
	ErrValidation = errors.New("invalid request")
	// ErrSessionClosed means the browser session is not running.
	ErrSessionClosed = errors.New("browser session closed")
)

// Retryable reports whether a fetch failure is worth another attempt.
// Caller cancellation, malformed input and a dead session are permanent.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrValidation), errors.Is(err, ErrSessionClosed), errors.Is(err, ErrStructure):
		return false
	default:
		return true
	}
}
