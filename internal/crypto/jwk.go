package crypto

import (
	"crypto/ecdh"
	"fmt"
)

// JWK is the JSON Web Key form of a P-256 key as exported by WebCrypto.
// D is only present on private keys.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	D   string `json:"d,omitempty"`
}

// Complete reports whether all public-key fields are populated.
func (j *JWK) Complete() bool {
	return j != nil && j.Kty != "" && j.Crv != "" && j.X != "" && j.Y != ""
}

// Public returns a copy of j without the private scalar.
func (j JWK) Public() JWK {
	j.D = ""
	return j
}

// PublicJWK exports a P-256 public key.
func PublicJWK(pub *ecdh.PublicKey) JWK {
	raw := pub.Bytes()
	return JWK{
		Kty: JWKKeyType,
		Crv: JWKCurve,
		X:   ToBase64URL(raw[1 : 1+P256CoordinateSize]),
		Y:   ToBase64URL(raw[1+P256CoordinateSize:]),
	}
}

// PrivateJWK exports a P-256 private key including its public coordinates.
func PrivateJWK(priv *ecdh.PrivateKey) JWK {
	j := PublicJWK(priv.PublicKey())
	j.D = ToBase64URL(priv.Bytes())
	return j
}

// ParsePublicJWK imports a P-256 public key, validating that the point is on
// the curve.
func ParsePublicJWK(j JWK) (*ecdh.PublicKey, error) {
	if j.Kty != JWKKeyType || j.Crv != JWKCurve {
		return nil, fmt.Errorf("%w: kty=%q crv=%q", ErrUnsupportedKey, j.Kty, j.Crv)
	}

	x, err := decodeCoordinate(j.X)
	if err != nil {
		return nil, fmt.Errorf("%w: x: %v", ErrInvalidPublicKey, err)
	}
	y, err := decodeCoordinate(j.Y)
	if err != nil {
		return nil, fmt.Errorf("%w: y: %v", ErrInvalidPublicKey, err)
	}

	raw := make([]byte, 0, P256PublicKeySize)
	raw = append(raw, 0x04)
	raw = append(raw, x...)
	raw = append(raw, y...)
	return PublicKeyFromBytes(raw)
}

// ParsePrivateJWK imports a P-256 private key and checks that the scalar
// matches the embedded public coordinates.
func ParsePrivateJWK(j JWK) (*ecdh.PrivateKey, error) {
	if j.D == "" {
		return nil, fmt.Errorf("%w: missing d", ErrInvalidPrivateKey)
	}

	pub, err := ParsePublicJWK(j)
	if err != nil {
		return nil, err
	}

	d, err := decodeCoordinate(j.D)
	if err != nil {
		return nil, fmt.Errorf("%w: d: %v", ErrInvalidPrivateKey, err)
	}
	defer Wipe(d)

	priv, err := ecdh.P256().NewPrivateKey(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	if !PublicKeysEqual(priv.PublicKey(), pub) {
		return nil, fmt.Errorf("%w: public coordinates do not match scalar", ErrInvalidPrivateKey)
	}
	return priv, nil
}

func decodeCoordinate(s string) ([]byte, error) {
	b, err := DecodeBase64(s)
	if err != nil {
		return nil, err
	}
	if len(b) != P256CoordinateSize {
		return nil, fmt.Errorf("got %d bytes, want %d", len(b), P256CoordinateSize)
	}
	return b, nil
}
