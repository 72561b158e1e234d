package drive

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrNotFound            = errors.New("drive: resource not found")
	ErrUnauthorized        = errors.New("drive: authentication rejected")
	ErrUpstreamUnavailable = errors.New("drive: host unreachable or transport failure")
	ErrUpstreamError       = errors.New("drive: internal error (5xx)")
	ErrBadResponse         = errors.New("drive: invalid response format or malformed data")
	ErrBadCredentials      = errors.New("drive: invalid service account credentials")
)

// APIError wraps the sentinel errors with operation context.
type APIError struct {
	Sentinel  error
	Operation string
	Status    int
	Err       error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("drive: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Sentinel
}

func apiError(op string, status int, err error) *APIError {
	sentinel := ErrUpstreamError
	switch {
	case status == 0:
		sentinel = ErrUpstreamUnavailable
	case status == 401 || status == 403:
		sentinel = ErrUnauthorized
	case status == 404:
		sentinel = ErrNotFound
	case status >= 500:
		sentinel = ErrUpstreamError
	default:
		sentinel = ErrBadResponse
	}
	return &APIError{Sentinel: sentinel, Operation: op, Status: status, Err: err}
}
