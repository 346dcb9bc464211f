package passkey

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/egregoros/e2eedm-go/internal/crypto"
)

// ErrUnknownCredential is returned by VirtualAuthenticator when none of the
// allowed credentials exist.
var ErrUnknownCredential = errors.New("unknown credential")

// VirtualAuthenticator is an in-process authenticator for tests and
// headless tools. PRF outputs follow the WebAuthn PRF construction:
// HMAC-SHA-256(credential secret, SHA-256("WebAuthn PRF" || 0x00 || salt)).
type VirtualAuthenticator struct {
	// DisablePRF makes the authenticator ignore PRF and hmac-secret inputs.
	DisablePRF bool
	// LegacyHMACSecret reports the output via hmacGetSecret instead of prf.
	LegacyHMACSecret bool
	// Cancel makes every ceremony fail with ErrUserCancelled.
	Cancel bool

	mu          sync.Mutex
	credentials map[string][]byte

	creations  atomic.Int64
	assertions atomic.Int64
}

// NewVirtualAuthenticator creates an authenticator with no credentials.
func NewVirtualAuthenticator() *VirtualAuthenticator {
	return &VirtualAuthenticator{credentials: make(map[string][]byte)}
}

// Create implements Authenticator.
func (v *VirtualAuthenticator) Create(ctx context.Context, opts *CreationOptions) (*Credential, error) {
	v.creations.Add(1)
	if err := v.ceremony(ctx); err != nil {
		return nil, err
	}

	id, err := crypto.RandomBytes(16)
	if err != nil {
		return nil, err
	}
	secret, err := crypto.RandomBytes(32)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	if v.credentials == nil {
		v.credentials = make(map[string][]byte)
	}
	v.credentials[string(id)] = secret
	v.mu.Unlock()

	cred := &Credential{RawID: id}
	if !v.DisablePRF && opts.Extensions.PRF != nil {
		cred.Extensions.PRF = &PRFResults{Enabled: true}
	}
	return cred, nil
}

// Assert implements Authenticator.
func (v *VirtualAuthenticator) Assert(ctx context.Context, opts *AssertionOptions) (*Assertion, error) {
	v.assertions.Add(1)
	if err := v.ceremony(ctx); err != nil {
		return nil, err
	}

	v.mu.Lock()
	var (
		id     []byte
		secret []byte
	)
	for _, c := range opts.AllowCredentials {
		if s, ok := v.credentials[string(c.ID)]; ok {
			id, secret = bytes.Clone(c.ID), s
			break
		}
	}
	v.mu.Unlock()

	if secret == nil {
		return nil, ErrUnknownCredential
	}

	assertion := &Assertion{RawID: id}
	if v.DisablePRF {
		return assertion, nil
	}

	var salt []byte
	switch {
	case opts.Extensions.PRF != nil:
		salt = opts.Extensions.PRF.Eval.First
	case opts.Extensions.HMACGetSecret != nil:
		salt = opts.Extensions.HMACGetSecret.Salt1
	default:
		return assertion, nil
	}

	out := evaluate(secret, salt)
	if v.LegacyHMACSecret {
		assertion.Extensions.HMACGetSecret = &HMACGetSecretOutput{Output1: out}
	} else {
		assertion.Extensions.PRF = &PRFResults{Results: &PRFValues{First: out}}
	}
	return assertion, nil
}

// Creations returns the number of creation ceremonies started.
func (v *VirtualAuthenticator) Creations() int64 { return v.creations.Load() }

// Assertions returns the number of assertion ceremonies started.
func (v *VirtualAuthenticator) Assertions() int64 { return v.assertions.Load() }

func (v *VirtualAuthenticator) ceremony(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v.Cancel {
		return ErrUserCancelled
	}
	return nil
}

func evaluate(secret, salt []byte) []byte {
	h := sha256.New()
	h.Write([]byte("WebAuthn PRF"))
	h.Write([]byte{0x00})
	h.Write(salt)

	mac := hmac.New(sha256.New, secret)
	mac.Write(h.Sum(nil))
	return mac.Sum(nil)
}
