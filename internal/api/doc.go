// Package api provides the HTTP client for the server's E2EE endpoints:
// account status, key registration and actor key lookup. It handles
// authentication, JSON serialization and retries with exponential backoff.
//
// # Client Creation
//
// The package provides two ways to create a client:
//
//   - [NewClient]: Struct-based configuration.
//   - [New]: Functional options pattern.
//
// A base URL is required. The session token, when set, is sent as a bearer
// token; a CSRF token, when set, is sent in the x-csrf-token header.
//
// # Retry Behavior
//
// Requests are retried up to 3 times by default for these status codes:
//
//   - 408 Request Timeout
//   - 429 Too Many Requests
//   - 500 Internal Server Error
//   - 502 Bad Gateway
//   - 503 Service Unavailable
//   - 504 Gateway Timeout
//
// Transport failures are retried too and surface as [NetworkError] once the
// budget is spent. A Retry-After header in seconds overrides the backoff.
//
// # Error Handling
//
// HTTP failures are returned as [APIError] and match these sentinels with
// errors.Is:
//
//   - [ErrUnauthorized]: 401.
//   - [ErrNotFound]: 404, e.g. an actor without a published key.
//   - [ErrAlreadyEnabled]: 409, or any response with error "already_enabled".
//   - [ErrRateLimited]: 429.
//
// # Thread Safety
//
// The [Client] type is safe for concurrent use.
package api
