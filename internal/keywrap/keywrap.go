// Package keywrap derives the symmetric keys that wrap the identity private
// key, and models the stored wrapper records as typed variants.
package keywrap

import (
	"errors"
	"fmt"

	"github.com/egregoros/e2eedm-go/internal/crypto"
)

// Versioned HKDF info strings. Distinct per variant so the same raw secret
// can never yield the same wrapping key through both paths.
const (
	InfoPasskey  = "egregoros:e2ee:wrap:v1"
	InfoMnemonic = "egregoros:e2ee:wrap:mnemonic:v1"
)

var (
	// ErrInvalidSalt is returned when an HKDF salt is not 32 bytes.
	ErrInvalidSalt = errors.New("wrapping salt must be 32 bytes")
	// ErrInvalidSecret is returned for empty secret material.
	ErrInvalidSecret = errors.New("wrapping secret is empty")
	// ErrMalformedRecord is returned when a wrapper record cannot be decoded.
	ErrMalformedRecord = errors.New("malformed wrapper record")
	// ErrUnsupportedRecord is returned for unknown wrapper types or
	// parameters this client cannot use.
	ErrUnsupportedRecord = errors.New("unsupported wrapper record")
	// ErrNoWrapperAvailable is returned when no stored wrapper can be
	// serviced on this device.
	ErrNoWrapperAvailable = errors.New("no usable key wrapper available")
)

// DeriveWrappingKey turns secret material (a passkey PRF output or mnemonic
// entropy) into an AES-256-GCM key with HKDF-SHA-256.
func DeriveWrappingKey(secret, salt []byte, info string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrInvalidSecret
	}
	if len(salt) != crypto.SaltSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSalt, len(salt))
	}
	return crypto.DeriveAESKey(secret, salt, info)
}

// material holds freshly drawn salt and nonce for a new wrapper.
type material struct {
	hkdfSalt []byte
	iv       []byte
}

func newMaterial() (*material, error) {
	salt, err := crypto.RandomBytes(crypto.SaltSize)
	if err != nil {
		return nil, err
	}
	iv, err := crypto.RandomBytes(crypto.AESNonceSize)
	if err != nil {
		return nil, err
	}
	return &material{hkdfSalt: salt, iv: iv}, nil
}

// NewPasskeyRecord prepares a passkey wrapper for a credential whose PRF
// evaluated prfOutput over prfSalt. It returns the wrapping key and a record
// whose WrappedPrivateKey the caller fills in after sealing with Nonce().
func NewPasskeyRecord(credentialID, prfSalt, prfOutput []byte) ([]byte, *PasskeyRecord, error) {
	if len(credentialID) == 0 {
		return nil, nil, fmt.Errorf("%w: missing credential id", ErrMalformedRecord)
	}
	if len(prfSalt) != crypto.SaltSize {
		return nil, nil, fmt.Errorf("%w: prf salt", ErrInvalidSalt)
	}

	m, err := newMaterial()
	if err != nil {
		return nil, nil, err
	}
	key, err := DeriveWrappingKey(prfOutput, m.hkdfSalt, InfoPasskey)
	if err != nil {
		return nil, nil, err
	}
	return key, &PasskeyRecord{
		CredentialID: credentialID,
		PRFSalt:      prfSalt,
		HKDFSalt:     m.hkdfSalt,
		IV:           m.iv,
	}, nil
}

// NewMnemonicRecord prepares a recovery-phrase wrapper for entropy.
func NewMnemonicRecord(entropy []byte) ([]byte, *MnemonicRecord, error) {
	m, err := newMaterial()
	if err != nil {
		return nil, nil, err
	}
	key, err := DeriveWrappingKey(entropy, m.hkdfSalt, InfoMnemonic)
	if err != nil {
		return nil, nil, err
	}
	return key, &MnemonicRecord{HKDFSalt: m.hkdfSalt, IV: m.iv}, nil
}
