package api

import "github.com/egregoros/e2eedm-go/internal/apierrors"

// Re-exported so callers of this package need not import apierrors.
var (
	ErrUnauthorized   = apierrors.ErrUnauthorized
	ErrNotFound       = apierrors.ErrNotFound
	ErrAlreadyEnabled = apierrors.ErrAlreadyEnabled
	ErrRateLimited    = apierrors.ErrRateLimited
	ErrNetwork        = apierrors.ErrNetwork
)

// APIError is an HTTP error response.
type APIError = apierrors.APIError

// NetworkError is a transport-level failure after retries.
type NetworkError = apierrors.NetworkError
