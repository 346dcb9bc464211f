package crypto

const (
	// AESKeySize is the size of an AES-256 key in bytes.
	AESKeySize = 32
	// AESNonceSize is the size of an AES-GCM nonce in bytes.
	AESNonceSize = 12
	// AESTagSize is the size of an AES-GCM authentication tag in bytes.
	AESTagSize = 16

	// SaltSize is the size of the random HKDF salts used for message keys
	// and wrapping keys.
	SaltSize = 32

	// SharedSecretSize is the size of a P-256 ECDH shared secret in bytes.
	SharedSecretSize = 32
	// P256CoordinateSize is the size of one affine coordinate in bytes.
	P256CoordinateSize = 32
	// P256PublicKeySize is the size of an uncompressed P-256 point.
	P256PublicKeySize = 1 + 2*P256CoordinateSize

	// JWKKeyType and JWKCurve are the only JWK parameters accepted.
	JWKKeyType = "EC"
	JWKCurve   = "P-256"

	// AlgA256GCM and KDFHKDFSHA256 are the identifiers recorded in wrapper
	// params.
	AlgA256GCM    = "A256GCM"
	KDFHKDFSHA256 = "HKDF-SHA256"
)
