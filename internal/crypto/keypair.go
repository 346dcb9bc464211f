package crypto

import (
	"bytes"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// GenerateKeyPair creates a new ECDH P-256 key pair.
func GenerateKeyPair() (*ecdh.PrivateKey, error) {
	priv, err := ecdh.P256().GenerateKey(randReader)
	if err != nil {
		return nil, fmt.Errorf("generate p-256 key: %w", err)
	}
	return priv, nil
}

// SharedSecret computes the ECDH shared secret (the x-coordinate of the
// shared point, 32 bytes), matching WebCrypto deriveBits(256).
func SharedSecret(priv *ecdh.PrivateKey, pub *ecdh.PublicKey) ([]byte, error) {
	if priv == nil || pub == nil {
		return nil, fmt.Errorf("%w: missing key", ErrInvalidPublicKey)
	}
	secret, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	return secret, nil
}

// PublicKeyFromBytes parses an uncompressed P-256 point.
func PublicKeyFromBytes(b []byte) (*ecdh.PublicKey, error) {
	if len(b) != P256PublicKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPublicKey, len(b), P256PublicKeySize)
	}
	pub, err := ecdh.P256().NewPublicKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}

// PublicKeysEqual reports whether a and b encode the same point.
func PublicKeysEqual(a, b *ecdh.PublicKey) bool {
	if a == nil || b == nil {
		return a == b
	}
	return bytes.Equal(a.Bytes(), b.Bytes())
}

// Fingerprint returns a display fingerprint of a public key: SHA-256 of the
// uncompressed point, hex encoded, in groups of four characters.
func Fingerprint(pub *ecdh.PublicKey) string {
	if pub == nil {
		return ""
	}
	sum := sha256.Sum256(pub.Bytes())
	encoded := hex.EncodeToString(sum[:])

	groups := make([]string, 0, len(encoded)/4)
	for i := 0; i < len(encoded); i += 4 {
		groups = append(groups, encoded[i:i+4])
	}
	return strings.Join(groups, ":")
}
