package crypto

import "errors"

var (
	// ErrDecryptionFailed is returned when AEAD authentication fails.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidKeySize is returned when the AES key size is invalid.
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrInvalidNonceSize is returned when the nonce size is invalid.
	ErrInvalidNonceSize = errors.New("invalid nonce size")

	// ErrInvalidPublicKey is returned when a public key is malformed or not
	// a point on P-256.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidPrivateKey is returned when a private key is malformed or
	// does not match its embedded public coordinates.
	ErrInvalidPrivateKey = errors.New("invalid private key")

	// ErrUnsupportedKey is returned for JWKs with a key type or curve other
	// than EC / P-256.
	ErrUnsupportedKey = errors.New("unsupported key type or curve")
)
