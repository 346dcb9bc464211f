// Package dm implements the encrypted direct-message envelope.
//
// Each message derives a fresh AES-256-GCM key from the ECDH shared secret
// of the two identity keys, a random 32-byte salt and the info string Info.
// The sender and recipient actor ids and kids are bound into the tag as
// canonicalized associated data, and the envelope's plaintext parties must
// agree with it, so a message cannot be replayed under a different pairing
// or attributed to the other participant.
package dm

import (
	"bytes"
	"crypto/ecdh"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/egregoros/e2eedm-go/internal/canonical"
	"github.com/egregoros/e2eedm-go/internal/crypto"
)

const (
	// Version is the only envelope version produced and accepted.
	Version = 1
	// Alg names the envelope construction.
	Alg = "ECDH-P256+HKDF-SHA256+AES-256-GCM"
	// Info is the HKDF info string for message keys.
	Info = "egregoros:e2ee:dm:v1"
)

// Associated data field names.
const (
	AADSenderAPID    = "sender_ap_id"
	AADRecipientAPID = "recipient_ap_id"
	AADSenderKID     = "sender_kid"
	AADRecipientKID  = "recipient_kid"
)

var (
	// ErrDecryptionFailed is returned when the tag does not verify.
	ErrDecryptionFailed = crypto.ErrDecryptionFailed
	// ErrMissingKey is returned when a required key was not supplied.
	ErrMissingKey = errors.New("e2ee_missing_sender_key")
	// ErrMalformedEnvelope is returned for envelopes that cannot be decoded.
	ErrMalformedEnvelope = errors.New("malformed envelope")
	// ErrUnsupportedVersion is returned for unknown versions or algorithms.
	ErrUnsupportedVersion = errors.New("unsupported envelope version")
	// ErrNotParticipant is returned when an actor is neither sender nor
	// recipient.
	ErrNotParticipant = errors.New("actor is not a participant")
)

// Party identifies one end of a conversation and the key it used.
type Party struct {
	APID string `json:"ap_id"`
	KID  string `json:"kid"`
}

// Envelope is the wire form of an encrypted message. Byte fields are
// unpadded base64url.
type Envelope struct {
	Version    int            `json:"version"`
	Alg        string         `json:"alg"`
	Sender     Party          `json:"sender"`
	Recipient  Party          `json:"recipient"`
	Nonce      string         `json:"nonce"`
	Salt       string         `json:"salt"`
	AAD        map[string]any `json:"aad"`
	Ciphertext string         `json:"ciphertext"`
}

// NewAAD returns the associated data for a sender and recipient.
func NewAAD(sender, recipient Party) map[string]any {
	return map[string]any{
		AADSenderAPID:    sender.APID,
		AADRecipientAPID: recipient.APID,
		AADSenderKID:     sender.KID,
		AADRecipientKID:  recipient.KID,
	}
}

func deriveKey(priv *ecdh.PrivateKey, pub *ecdh.PublicKey, salt []byte) ([]byte, error) {
	shared, err := crypto.SharedSecret(priv, pub)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(shared)
	return crypto.DeriveAESKey(shared, salt, Info)
}

func encodeAAD(aad map[string]any) ([]byte, error) {
	if aad == nil {
		aad = map[string]any{}
	}
	return canonical.Marshal(aad)
}

// Encrypt seals plaintext from sender to recipient.
func Encrypt(plaintext []byte, sender Party, senderKey *ecdh.PrivateKey, recipient Party, recipientPub *ecdh.PublicKey) (*Envelope, error) {
	if senderKey == nil || recipientPub == nil {
		return nil, ErrMissingKey
	}
	if sender.APID == "" || sender.KID == "" || recipient.APID == "" || recipient.KID == "" {
		return nil, fmt.Errorf("%w: sender and recipient need ap_id and kid", ErrMalformedEnvelope)
	}

	salt, err := crypto.RandomBytes(crypto.SaltSize)
	if err != nil {
		return nil, err
	}
	nonce, err := crypto.RandomBytes(crypto.AESNonceSize)
	if err != nil {
		return nil, err
	}

	key, err := deriveKey(senderKey, recipientPub, salt)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(key)

	aad := NewAAD(sender, recipient)
	aadBytes, err := encodeAAD(aad)
	if err != nil {
		return nil, err
	}

	ciphertext, err := crypto.Seal(key, nonce, aadBytes, plaintext)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		Version:    Version,
		Alg:        Alg,
		Sender:     sender,
		Recipient:  recipient,
		Nonce:      crypto.ToBase64URL(nonce),
		Salt:       crypto.ToBase64URL(salt),
		AAD:        aad,
		Ciphertext: crypto.ToBase64URL(ciphertext),
	}, nil
}

// Decrypt opens env with myKey and the counterparty's public key. Either
// party can decrypt. Envelopes whose sender or recipient differ from the
// associated data are rejected before any key is derived.
func Decrypt(env *Envelope, myKey *ecdh.PrivateKey, otherPub *ecdh.PublicKey) ([]byte, error) {
	if myKey == nil || otherPub == nil {
		return nil, ErrMissingKey
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}

	nonce, err := decodeField("nonce", env.Nonce, crypto.AESNonceSize)
	if err != nil {
		return nil, err
	}
	salt, err := decodeField("salt", env.Salt, crypto.SaltSize)
	if err != nil {
		return nil, err
	}
	ciphertext, err := decodeField("ciphertext", env.Ciphertext, 0)
	if err != nil {
		return nil, err
	}

	aadBytes, err := encodeAAD(env.AAD)
	if err != nil {
		return nil, fmt.Errorf("%w: aad: %v", ErrMalformedEnvelope, err)
	}
	// The ECDH secret is the same in both directions, so the plaintext
	// sender and recipient fields must match the authenticated ones.
	want, err := encodeAAD(NewAAD(env.Sender, env.Recipient))
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(aadBytes, want) {
		return nil, fmt.Errorf("%w: participants do not match aad", ErrDecryptionFailed)
	}

	key, err := deriveKey(myKey, otherPub, salt)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(key)

	return crypto.Open(key, nonce, aadBytes, ciphertext)
}

func decodeField(name, s string, size int) ([]byte, error) {
	b, err := crypto.DecodeBase64(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEnvelope, name, err)
	}
	if size > 0 && len(b) != size {
		return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrMalformedEnvelope, name, len(b), size)
	}
	return b, nil
}

// Validate checks the envelope's shape without touching any key.
func (e *Envelope) Validate() error {
	if e == nil {
		return ErrMalformedEnvelope
	}
	if e.Version != Version {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, e.Version)
	}
	if e.Alg != Alg {
		return fmt.Errorf("%w: alg %q", ErrUnsupportedVersion, e.Alg)
	}
	if e.Sender.APID == "" || e.Recipient.APID == "" {
		return fmt.Errorf("%w: missing participant", ErrMalformedEnvelope)
	}
	if e.Nonce == "" || e.Salt == "" || e.Ciphertext == "" {
		return fmt.Errorf("%w: missing nonce, salt or ciphertext", ErrMalformedEnvelope)
	}
	return nil
}

// Counterparty returns the party myActorID appears as and the participant
// opposite it.
func (e *Envelope) Counterparty(myActorID string) (self, other Party, err error) {
	switch myActorID {
	case e.Sender.APID:
		return e.Sender, e.Recipient, nil
	case e.Recipient.APID:
		return e.Recipient, e.Sender, nil
	}
	return Party{}, Party{}, ErrNotParticipant
}

// Marshal encodes the envelope as JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Parse decodes a JSON envelope. Numbers inside aad are kept exact so the
// associated data re-encodes byte for byte.
func Parse(data []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}
