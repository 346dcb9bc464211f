package e2eedm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/egregoros/e2eedm-go/internal/apierrors"
	"github.com/egregoros/e2eedm-go/internal/mnemonic"
	"github.com/egregoros/e2eedm-go/internal/passkey"
	"github.com/egregoros/e2eedm-go/internal/unlock"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want string
	}{
		{"with request id", &APIError{StatusCode: 422, Code: "already_enabled", RequestID: "req-1"}, "API error 422: already_enabled (request_id: req-1)"},
		{"message wins over code", &APIError{StatusCode: 400, Code: "invalid_payload", Message: "bad kid"}, "API error 400: bad kid"},
		{"status only", &APIError{StatusCode: 503}, "API error 503"},
		{"status and request id", &APIError{StatusCode: 500, RequestID: "req-2"}, "API error 500 (request_id: req-2)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAPIError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    *APIError
		target error
		want   bool
	}{
		{"401 is unauthorized", &APIError{StatusCode: 401}, ErrUnauthorized, true},
		{"429 is rate limited", &APIError{StatusCode: 429}, ErrRateLimited, true},
		{"already_enabled code", &APIError{StatusCode: 422, Code: "already_enabled"}, ErrAlreadyEnabled, true},
		{"409 conflict", &APIError{StatusCode: 409}, ErrAlreadyEnabled, true},
		{"422 without code", &APIError{StatusCode: 422}, ErrAlreadyEnabled, false},
		{"500 is not unauthorized", &APIError{StatusCode: 500}, ErrUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Errorf("errors.Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNetworkError(t *testing.T) {
	inner := errors.New("connection refused")
	err := &NetworkError{Err: inner, URL: "https://egregoros.example/settings/e2ee", Attempt: 2}

	if err.Error() != "network error: connection refused" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, ErrNetwork) {
		t.Error("errors.Is(err, ErrNetwork) = false")
	}
	if !errors.Is(err, inner) {
		t.Error("errors.Is(err, inner) = false")
	}
}

func TestE2EEError_Interface(t *testing.T) {
	errs := []E2EEError{
		&APIError{StatusCode: 400},
		&NetworkError{Err: errors.New("x")},
		&UnlockError{Reason: "user_cancelled", Err: ErrUserCancelled},
		&DecryptionError{Stage: "aead", Err: ErrDecryptionFailed},
	}
	for _, err := range errs {
		if err.Error() == "" {
			t.Errorf("%T has empty message", err)
		}
	}
}

func TestWrapError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		if wrapError(nil) != nil {
			t.Error("wrapError(nil) should be nil")
		}
	})

	t.Run("api error", func(t *testing.T) {
		inner := &apierrors.APIError{StatusCode: 422, Code: apierrors.CodeAlreadyEnabled, RequestID: "r"}
		err := wrapError(fmt.Errorf("register passkey wrapper: %w", inner))
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("wrapError() = %T, want *APIError", err)
		}
		if apiErr.StatusCode != 422 || apiErr.Code != "already_enabled" || apiErr.RequestID != "r" {
			t.Errorf("APIError = %+v", apiErr)
		}
		if !errors.Is(err, ErrAlreadyEnabled) {
			t.Error("errors.Is(err, ErrAlreadyEnabled) = false")
		}
	})

	t.Run("network error", func(t *testing.T) {
		inner := &apierrors.NetworkError{Err: errors.New("reset"), URL: "u", Attempt: 3}
		var netErr *NetworkError
		if !errors.As(wrapError(inner), &netErr) {
			t.Fatal("wrapError() should produce *NetworkError")
		}
		if netErr.URL != "u" || netErr.Attempt != 3 {
			t.Errorf("NetworkError = %+v", netErr)
		}
	})

	t.Run("unlock failure", func(t *testing.T) {
		inner := &apierrors.NetworkError{Err: errors.New("reset")}
		err := wrapError(&unlock.Failure{Reason: unlock.ReasonNetwork, Err: inner})
		var unlockErr *UnlockError
		if !errors.As(err, &unlockErr) {
			t.Fatalf("wrapError() = %T, want *UnlockError", err)
		}
		if unlockErr.Reason != "network" {
			t.Errorf("Reason = %q", unlockErr.Reason)
		}
		var netErr *NetworkError
		if !errors.As(err, &netErr) {
			t.Error("inner error should be converted to *NetworkError")
		}
	})

	t.Run("other errors pass through", func(t *testing.T) {
		err := &DecryptionError{Stage: "aead", Err: ErrDecryptionFailed}
		if wrapError(err) != err {
			t.Error("wrapError() should not replace unrelated errors")
		}
	})
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"already enabled", &APIError{StatusCode: 422, Code: "already_enabled"}, "Encrypted DMs are already enabled."},
		{"prf unsupported", &UnlockError{Reason: "prf_unsupported", Err: passkey.ErrPRFUnsupported}, prfUnsupportedMessage},
		{"cancelled", ErrUserCancelled, "The request was cancelled."},
		{"not enabled", ErrNotEnabled, "Encrypted DMs are not enabled for this account."},
		{"bad length", fmt.Errorf("%w: 23 words", mnemonic.ErrInvalidLength), "A recovery code has exactly 24 words."},
		{"bad checksum", mnemonic.ErrInvalidChecksum, "That recovery code is not valid. Check the words and their order."},
		{"decryption", &DecryptionError{Stage: "aead", Err: ErrDecryptionFailed}, "This message could not be decrypted."},
		{"unauthorized", &APIError{StatusCode: 401}, "Your session has expired. Sign in again."},
		{"server error", &APIError{StatusCode: 503}, "Could not reach the server. Try again."},
		{"unknown", errors.New("boom"), "Something went wrong with encrypted DMs."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.want {
				t.Errorf("UserMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", &NetworkError{Err: errors.New("reset")}, true},
		{"rate limited", &APIError{StatusCode: 429}, true},
		{"server error", &APIError{StatusCode: 502}, true},
		{"timeout status", &APIError{StatusCode: 408}, true},
		{"bad request", &APIError{StatusCode: 400}, false},
		{"internal api error", &apierrors.APIError{StatusCode: 500}, true},
		{"decryption", &DecryptionError{Stage: "aead", Err: ErrDecryptionFailed}, false},
		{"checksum", &UnlockError{Reason: "invalid_mnemonic", Err: ErrInvalidMnemonicChecksum}, false},
		{"unlock over network", &UnlockError{Reason: "network", Err: &NetworkError{Err: errors.New("x")}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
