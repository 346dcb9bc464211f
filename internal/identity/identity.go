// Package identity owns the user's E2EE identity keypair: generation,
// wrapping under a derived key, and the session manager that registers
// wrappers and caches unwrapped keys on the device.
package identity

import (
	"crypto/ecdh"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/egregoros/e2eedm-go/internal/crypto"
)

// KIDPrefix starts every key identifier minted by this package.
const KIDPrefix = "e2ee-"

// ErrDecryptionFailed is returned when a wrapped key cannot be opened.
var ErrDecryptionFailed = crypto.ErrDecryptionFailed

// Identity is an unwrapped identity keypair. It lives only in memory and in
// the local key cache.
type Identity struct {
	KID        string
	PrivateKey *ecdh.PrivateKey
}

// NewKID returns a fresh time-ordered key identifier.
func NewKID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate kid: %w", err)
	}
	return KIDPrefix + id.String(), nil
}

// Generate creates a new P-256 identity with a fresh kid.
func Generate() (*Identity, error) {
	kid, err := NewKID()
	if err != nil {
		return nil, err
	}
	priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Identity{KID: kid, PrivateKey: priv}, nil
}

// PublicKey returns the public half.
func (id *Identity) PublicKey() *ecdh.PublicKey {
	return id.PrivateKey.PublicKey()
}

// PublicJWK returns the public half as a JWK.
func (id *Identity) PublicJWK() crypto.JWK {
	return crypto.PublicJWK(id.PublicKey())
}

// Fingerprint returns the display fingerprint of the public key.
func (id *Identity) Fingerprint() string {
	return crypto.Fingerprint(id.PublicKey())
}

// MarshalPrivateJWK encodes the private key as JWK JSON, the format the web
// client wraps and caches.
func (id *Identity) MarshalPrivateJWK() ([]byte, error) {
	if id == nil || id.PrivateKey == nil {
		return nil, errors.New("identity has no private key")
	}
	return json.Marshal(crypto.PrivateJWK(id.PrivateKey))
}

// ParsePrivateJWK decodes private JWK JSON into an identity labelled kid.
func ParsePrivateJWK(kid string, data []byte) (*Identity, error) {
	var j crypto.JWK
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrInvalidPrivateKey, err)
	}
	priv, err := crypto.ParsePrivateJWK(j)
	if err != nil {
		return nil, err
	}
	return &Identity{KID: kid, PrivateKey: priv}, nil
}

// Wrap seals the private JWK under key with nonce iv. No associated data is
// bound, matching existing wrapper records.
func Wrap(id *Identity, key, iv []byte) ([]byte, error) {
	plaintext, err := id.MarshalPrivateJWK()
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(plaintext)

	return crypto.Seal(key, iv, nil, plaintext)
}

// Unwrap opens a wrapped private key. Any failure, including a key that
// opens but does not parse, leaves no key state behind.
func Unwrap(kid string, wrapped, key, iv []byte) (*Identity, error) {
	plaintext, err := crypto.Open(key, iv, nil, wrapped)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(plaintext)

	id, err := ParsePrivateJWK(kid, plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return id, nil
}
