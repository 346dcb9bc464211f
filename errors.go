package e2eedm

import (
	"errors"
	"fmt"

	"github.com/egregoros/e2eedm-go/internal/apierrors"
	"github.com/egregoros/e2eedm-go/internal/crypto"
	"github.com/egregoros/e2eedm-go/internal/dm"
	"github.com/egregoros/e2eedm-go/internal/keywrap"
	"github.com/egregoros/e2eedm-go/internal/mnemonic"
	"github.com/egregoros/e2eedm-go/internal/passkey"
	"github.com/egregoros/e2eedm-go/internal/resolver"
	"github.com/egregoros/e2eedm-go/internal/unlock"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrMissingBaseURL is returned when no instance URL is configured.
	ErrMissingBaseURL = apierrors.ErrMissingBaseURL

	// ErrMissingActorID is returned when an operation needs an actor id and
	// none was given.
	ErrMissingActorID = resolver.ErrMissingActorID

	// ErrClientClosed is returned when operations are attempted on a closed client.
	ErrClientClosed = apierrors.ErrClientClosed

	// ErrUnauthorized is returned when the session token is invalid or expired.
	ErrUnauthorized = apierrors.ErrUnauthorized

	// ErrRateLimited is returned when the server rate limit is exceeded.
	ErrRateLimited = apierrors.ErrRateLimited

	// ErrNetwork matches transient transport failures.
	ErrNetwork = apierrors.ErrNetwork

	// ErrAlreadyEnabled is returned when registering a key for an account
	// that already has one.
	ErrAlreadyEnabled = apierrors.ErrAlreadyEnabled

	// ErrNotEnabled is returned when the account has no E2EE identity.
	ErrNotEnabled = unlock.ErrNotEnabled

	// ErrNoWrapperAvailable is returned when none of the account's stored
	// wrappers can be unwrapped on this device.
	ErrNoWrapperAvailable = keywrap.ErrNoWrapperAvailable

	// ErrPRFUnsupported is returned when the authenticator lacks the PRF or
	// hmac-secret extension.
	ErrPRFUnsupported = passkey.ErrPRFUnsupported

	// ErrUserCancelled is returned when the user dismisses a prompt.
	ErrUserCancelled = passkey.ErrUserCancelled

	// ErrInvalidMnemonicLength is returned for phrases that are not 24 words.
	ErrInvalidMnemonicLength = mnemonic.ErrInvalidLength

	// ErrInvalidMnemonicWord is returned for words outside the word list.
	ErrInvalidMnemonicWord = mnemonic.ErrInvalidWord

	// ErrInvalidMnemonicChecksum is returned when the phrase checksum fails.
	ErrInvalidMnemonicChecksum = mnemonic.ErrInvalidChecksum

	// ErrDecryptionFailed is returned when authentication fails, for both
	// wrapped keys and messages.
	ErrDecryptionFailed = crypto.ErrDecryptionFailed

	// ErrKeyMismatch is returned when an unwrapped key is not the account's
	// active key.
	ErrKeyMismatch = unlock.ErrKeyMismatch

	// ErrRecipientKeyUnavailable is returned when the counterparty has no
	// usable published key.
	ErrRecipientKeyUnavailable = errors.New("recipient has no usable E2EE key")

	// ErrNotParticipant is returned when decrypting a message the signed-in
	// actor neither sent nor received.
	ErrNotParticipant = dm.ErrNotParticipant

	// ErrMalformedEnvelope is returned for envelopes that cannot be decoded.
	ErrMalformedEnvelope = dm.ErrMalformedEnvelope
)

// E2EEError is implemented by all SDK error types.
type E2EEError interface {
	error
	E2EEError() // marker method
}

// APIError represents an HTTP error from the server.
type APIError struct {
	StatusCode int
	Code       string // machine-readable error, e.g. "already_enabled"
	Message    string
	RequestID  string // if returned by server
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

// E2EEError implements the E2EEError interface.
func (e *APIError) E2EEError() {}

// Is implements errors.Is for sentinel error matching.
func (e *APIError) Is(target error) bool {
	inner := apierrors.APIError{StatusCode: e.StatusCode, Code: e.Code}
	return inner.Is(target)
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	inner := apierrors.APIError{StatusCode: e.StatusCode}
	return inner.Temporary()
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

// Is implements errors.Is for sentinel error matching.
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// E2EEError implements the E2EEError interface.
func (e *NetworkError) E2EEError() {}

// UnlockError is returned when the identity key could not be unlocked.
// The client returns to the locked state and a later attempt may succeed.
type UnlockError struct {
	Reason string // e.g. "user_cancelled", "invalid_mnemonic"
	Err    error
}

func (e *UnlockError) Error() string {
	return fmt.Sprintf("unlock failed (%s): %v", e.Reason, e.Err)
}

// Unwrap returns the underlying error.
func (e *UnlockError) Unwrap() error {
	return e.Err
}

// E2EEError implements the E2EEError interface.
func (e *UnlockError) E2EEError() {}

// DecryptionError represents a failure to decrypt a message.
type DecryptionError struct {
	Stage string // "envelope", "key", "aead"
	Err   error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decryption failed at %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecryptionError) Unwrap() error {
	return e.Err
}

// E2EEError implements the E2EEError interface.
func (e *DecryptionError) E2EEError() {}

// wrapError converts internal errors to public errors.
// This ensures that errors.As() finds the public types.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var failure *unlock.Failure
	if errors.As(err, &failure) {
		return &UnlockError{Reason: string(failure.Reason), Err: wrapError(failure.Err)}
	}

	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) {
		return &APIError{
			StatusCode: apiErr.StatusCode,
			Code:       apiErr.Code,
			Message:    apiErr.Message,
			RequestID:  apiErr.RequestID,
		}
	}

	var netErr *apierrors.NetworkError
	if errors.As(err, &netErr) {
		return &NetworkError{
			Err:     netErr.Err,
			URL:     netErr.URL,
			Attempt: netErr.Attempt,
		}
	}

	return err
}

// prfUnsupportedMessage advises on providers that lack the PRF extension.
const prfUnsupportedMessage = "This passkey provider does not support the WebAuthn PRF / hmac-secret extensions, " +
	"so it can't be used for encrypted DM key recovery. Try a platform passkey provider " +
	"(iCloud Keychain / Google Password Manager) or use a recovery code instead."

// UserMessage returns a human-readable explanation of err suitable for
// showing to the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyEnabled):
		return "Encrypted DMs are already enabled."
	case errors.Is(err, ErrPRFUnsupported):
		return prfUnsupportedMessage
	case errors.Is(err, ErrUserCancelled):
		return "The request was cancelled."
	case errors.Is(err, ErrNotEnabled):
		return "Encrypted DMs are not enabled for this account."
	case errors.Is(err, ErrNoWrapperAvailable):
		return "No way to unlock your encrypted DM key is available on this device. Use a passkey or your recovery code."
	case errors.Is(err, ErrInvalidMnemonicLength):
		return "A recovery code has exactly 24 words."
	case errors.Is(err, ErrInvalidMnemonicWord):
		return "That recovery code contains a word that is not on the word list."
	case errors.Is(err, ErrInvalidMnemonicChecksum):
		return "That recovery code is not valid. Check the words and their order."
	case errors.Is(err, ErrKeyMismatch):
		return "The unlocked key does not match your account's active encrypted DM key."
	case errors.Is(err, ErrRecipientKeyUnavailable):
		return "This person has not enabled encrypted DMs."
	case errors.Is(err, ErrDecryptionFailed):
		return "This message could not be decrypted."
	case errors.Is(err, ErrUnauthorized):
		return "Your session has expired. Sign in again."
	case IsRetryable(err):
		return "Could not reach the server. Try again."
	}
	return "Something went wrong with encrypted DMs."
}

// IsRetryable reports whether err is transient and the operation can be
// retried without re-deriving any key material. Cryptographic failures are
// never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDecryptionFailed) || errors.Is(err, ErrInvalidMnemonicChecksum) {
		return false
	}
	if errors.Is(err, ErrNetwork) || errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var internal *apierrors.APIError
	if errors.As(err, &internal) {
		return internal.Temporary()
	}
	return false
}
