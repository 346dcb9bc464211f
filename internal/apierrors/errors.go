// Package apierrors provides shared error types for the e2eedm client.
package apierrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrMissingBaseURL is returned when no server base URL is provided.
	ErrMissingBaseURL = errors.New("base URL is required")

	// ErrClientClosed is returned when operations are attempted on a closed client.
	ErrClientClosed = errors.New("client has been closed")

	// ErrUnauthorized is returned when the session token is invalid or expired.
	ErrUnauthorized = errors.New("invalid or expired session")

	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyEnabled is returned when registering a key for an account
	// that already has an active E2EE key.
	ErrAlreadyEnabled = errors.New("encrypted DMs are already enabled")

	// ErrRateLimited is returned when the API rate limit is exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrNetwork matches every *NetworkError.
	ErrNetwork = errors.New("network error")
)

// CodeAlreadyEnabled is the server error code for a duplicate registration.
const CodeAlreadyEnabled = "already_enabled"

// APIError represents an HTTP error from the server.
type APIError struct {
	StatusCode int
	// Code is the machine-readable "error" field of the response body.
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.RequestID != "" {
		if msg != "" {
			return fmt.Sprintf("API error %d: %s (request_id: %s)", e.StatusCode, msg, e.RequestID)
		}
		return fmt.Sprintf("API error %d (request_id: %s)", e.StatusCode, e.RequestID)
	}
	if msg != "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("API error %d", e.StatusCode)
}

// Is implements errors.Is for sentinel error matching.
func (e *APIError) Is(target error) bool {
	if e.Code == CodeAlreadyEnabled && target == ErrAlreadyEnabled {
		return true
	}
	switch e.StatusCode {
	case 401:
		return target == ErrUnauthorized
	case 404:
		return target == ErrNotFound
	case 409:
		return target == ErrAlreadyEnabled
	case 429:
		return target == ErrRateLimited
	}
	return false
}

// Temporary reports whether the failure is worth retrying.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 408 || e.StatusCode == 429 || e.StatusCode >= 500
}

// NetworkError represents a network-level failure.
type NetworkError struct {
	Err     error
	URL     string
	Attempt int
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is matches ErrNetwork.
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}
