package e2eedm

import (
	"github.com/egregoros/e2eedm-go/internal/dm"
	"github.com/egregoros/e2eedm-go/internal/identity"
	"github.com/egregoros/e2eedm-go/internal/keystore"
	"github.com/egregoros/e2eedm-go/internal/passkey"
	"github.com/egregoros/e2eedm-go/internal/resolver"
	"github.com/egregoros/e2eedm-go/internal/unlock"
)

// Envelope is an encrypted direct message as sent over the wire.
type Envelope = dm.Envelope

// Party identifies one end of a conversation and its key id.
type Party = dm.Party

// Envelope constants.
const (
	EnvelopeVersion = dm.Version
	EnvelopeAlg     = dm.Alg
)

// ParseEnvelope decodes a JSON envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	return dm.Parse(data)
}

// Identity is the unlocked identity keypair.
type Identity = identity.Identity

// ActorKey is a validated public key published by an actor.
type ActorKey = resolver.ActorKey

// State is the unlock state of a client.
type State = unlock.State

// Unlock states.
const (
	StateLocked    = unlock.Locked
	StateUnlocking = unlock.Unlocking
	StateUnlocked  = unlock.Unlocked
)

// Event describes an unlock state transition.
type Event = unlock.Event

// Authenticator is a platform authenticator with the PRF or hmac-secret
// extension.
type Authenticator = passkey.Authenticator

// Authenticator ceremony types.
type (
	RelyingParty     = passkey.RelyingParty
	User             = passkey.User
	CreationOptions  = passkey.CreationOptions
	AssertionOptions = passkey.AssertionOptions
	Credential       = passkey.Credential
	Assertion        = passkey.Assertion
)

// NewVirtualAuthenticator returns an in-process authenticator for tests
// and headless tools.
func NewVirtualAuthenticator() *passkey.VirtualAuthenticator {
	return passkey.NewVirtualAuthenticator()
}

// KeyStore caches unwrapped private keys on the device, keyed by kid.
type KeyStore interface {
	Load(kid string) ([]byte, error)
	Save(kid string, data []byte) error
	Delete(kid string) error
	Clear() error
	Close() error
}

// ErrKeyNotCached is returned by KeyStore.Load for unknown kids.
var ErrKeyNotCached = keystore.ErrNotFound

// NewMemoryKeyStore returns a KeyStore that lives as long as the process.
func NewMemoryKeyStore() KeyStore {
	return keystore.NewMemoryStore()
}

// OpenFileKeyStore opens a persistent KeyStore in dir.
func OpenFileKeyStore(dir string) (KeyStore, error) {
	store, err := keystore.OpenBadger(keystore.BadgerConfig{Dir: dir})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Status is the account's E2EE status.
type Status struct {
	Enabled     bool
	ActiveKID   string
	Fingerprint string
	// Wrappers lists the stored wrapper types this client understands, in
	// server order.
	Wrappers []string
}

// Registration is the outcome of enabling encrypted DMs.
type Registration struct {
	KID         string
	Fingerprint string
	// RecoveryPhrase is set by EnableRecoveryPhrase. Show it to the user
	// once; it is not stored anywhere.
	RecoveryPhrase string
}

// Rendered is a message prepared for display. When Locked or Failed is set,
// Text holds a placeholder and the UI should offer a manual unlock.
type Rendered struct {
	Text   string
	Sender Party
	Locked bool
	Failed bool
	Err    error
}
