package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey derives a key using HKDF-SHA-256.
//
// Parameters:
//   - secret: the input key material (ECDH shared secret, PRF output, entropy)
//   - salt: random salt; if empty, a zero-filled salt is used
//   - info: versioned context string for domain separation
//   - length: desired output key length in bytes
func DeriveKey(secret, salt, info []byte, length int) ([]byte, error) {
	if len(salt) == 0 {
		salt = make([]byte, sha256.Size)
	}

	reader := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, length)

	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	return key, nil
}

// DeriveAESKey derives a 256-bit AES-GCM key with HKDF-SHA-256.
func DeriveAESKey(secret, salt []byte, info string) ([]byte, error) {
	return DeriveKey(secret, salt, []byte(info), AESKeySize)
}
