package api

import (
	"encoding/json"

	"github.com/egregoros/e2eedm-go/internal/crypto"
)

// Wrapper record types.
const (
	WrapperTypePasskey  = "webauthn_hmac_secret"
	WrapperTypeMnemonic = "recovery_mnemonic_v1"
)

// StatusResponse represents the GET /settings/e2ee response.
type StatusResponse struct {
	Enabled   bool            `json:"enabled"`
	ActiveKey *ActiveKey      `json:"active_key"`
	Wrappers  []WrapperRecord `json:"wrappers"`
}

// ActiveKey is the account's current identity public key.
type ActiveKey struct {
	KID string `json:"kid"`
	// PublicKey and PublicKeyJWK are alternative spellings; servers send one.
	PublicKey    *crypto.JWK `json:"public_key,omitempty"`
	PublicKeyJWK *crypto.JWK `json:"public_key_jwk,omitempty"`
	Fingerprint  string      `json:"fingerprint,omitempty"`
}

// JWK returns whichever public key field the server populated.
func (k *ActiveKey) JWK() *crypto.JWK {
	if k == nil {
		return nil
	}
	if k.PublicKeyJWK != nil {
		return k.PublicKeyJWK
	}
	return k.PublicKey
}

// WrapperRecord is a stored encrypted copy of the identity private key.
// Params are decoded per Type by the keywrap package.
type WrapperRecord struct {
	Type              string          `json:"type"`
	WrappedPrivateKey string          `json:"wrapped_private_key"`
	Params            json.RawMessage `json:"params"`
}

// RegisterRequest is the body of both registration endpoints.
type RegisterRequest struct {
	KID          string        `json:"kid"`
	PublicKeyJWK crypto.JWK    `json:"public_key_jwk"`
	Wrapper      WrapperRecord `json:"wrapper"`
}

// RegisterResponse is returned after a successful registration.
type RegisterResponse struct {
	KID         string `json:"kid,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// ActorKeyRequest queries an actor's key by id (and optional kid) or by
// federation handle.
type ActorKeyRequest struct {
	ActorAPID string `json:"actor_ap_id,omitempty"`
	KID       string `json:"kid,omitempty"`
	Handle    string `json:"handle,omitempty"`
}

// ActorKeyResponse is the POST /e2ee/actor_key response.
type ActorKeyResponse struct {
	ActorAPID string          `json:"actor_ap_id"`
	Key       *ActorKeyRecord `json:"key"`
}

// ActorKeyRecord is a published public key. The JWK fields are inlined.
type ActorKeyRecord struct {
	KID string `json:"kid"`
	crypto.JWK
	Fingerprint string `json:"fingerprint,omitempty"`
}
