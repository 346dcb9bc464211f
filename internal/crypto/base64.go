package crypto

import (
	"encoding/base64"
	"strings"
)

// ToBase64URL encodes bytes to URL-safe base64 without padding.
func ToBase64URL(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// FromBase64URL decodes strict URL-safe base64 without padding.
func FromBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// DecodeBase64 decodes base64url (with or without padding) to bytes.
// Web clients pad inconsistently, so standard-alphabet input is accepted
// too.
func DecodeBase64(s string) ([]byte, error) {
	trimmed := strings.TrimRight(s, "=")

	data, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err == nil {
		return data, nil
	}

	return base64.RawStdEncoding.DecodeString(trimmed)
}
