package ees

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingParameter is returned before any network call when a
	// required identifier is absent.
	ErrMissingParameter = errors.New("missing required parameter")
	// ErrInvalidParameter covers present but unusable arguments.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrUpstreamHTTP marks a non-success status from the statistics API.
	ErrUpstreamHTTP = errors.New("upstream request failed")
	// ErrMalformedResponse marks a response body with an unexpected shape.
	ErrMalformedResponse = errors.New("malformed upstream response")
	// ErrCircuitOpen is returned while the upstream circuit breaker rejects calls.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// UpstreamError carries the status and body of a failed upstream call.
type UpstreamError struct {
	Op     string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s failed: %d %s", e.Op, e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return ErrUpstreamHTTP
}

// StatusCode returns the upstream HTTP status.
func (e *UpstreamError) StatusCode() int {
	return e.Status
}

func missing(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingParameter, name)
}

func invalid(name string, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidParameter, name, reason)
}
