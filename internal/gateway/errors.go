package gateway

import (
	"fmt"
	"time"
)

// UpstreamUnavailableError is returned after every attempt against the
// provider failed. Last carries the final provider error.
type UpstreamUnavailableError struct {
	Kind     PromptKind
	Attempts int
	Last     error
	// RetryAfter is a hint for callers that surface the failure to clients.
	RetryAfter time.Duration
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("language model unavailable for %s after %d attempt(s): %v", e.Kind, e.Attempts, e.Last)
}

func (e *UpstreamUnavailableError) Unwrap() error {
	return e.Last
}

// MalformedResponseError is returned when the provider answered with JSON that
// does not fit the requested shape. It is never retried.
type MalformedResponseError struct {
	Kind  PromptKind
	Shape string
	Raw   string
	Cause error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed %s response for %s: %v", e.Shape, e.Kind, e.Cause)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Cause
}
