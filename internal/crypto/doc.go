// Package crypto provides the cryptographic primitives for end-to-end
// encrypted direct messages. Every primitive here is available to a web
// client through WebCrypto, so envelopes and wrapped keys produced by this
// package interoperate with browser peers.
//
// # Algorithm Suite
//
//   - ECDH over NIST P-256: static-static key agreement between the two
//     parties' long-lived identity keys.
//
//   - HKDF-SHA-256 (RFC 5869): turns ECDH shared secrets, passkey PRF
//     outputs and recovery-phrase entropy into AES keys, with a versioned
//     info string for domain separation.
//
//   - AES-256-GCM: authenticated encryption with associated data. The
//     16-byte tag is appended to the ciphertext.
//
// # Security Notes
//
// AES-GCM nonces MUST be unique for each encryption with the same key.
// [Seal] never generates nonces; callers draw them from [RandomBytes].
//
// [Open] fails atomically: on tag mismatch it returns [ErrDecryptionFailed]
// and no plaintext.
//
// # Key Encoding
//
// Public and private keys travel as JSON Web Keys ([JWK]) with kty "EC" and
// crv "P-256". Byte fields on the wire use URL-safe base64 without padding
// ([ToBase64URL]); [DecodeBase64] also accepts padded and standard input.
package crypto
