package keywrap

import (
	"context"
	"fmt"

	"github.com/egregoros/e2eedm-go/internal/crypto"
	"github.com/egregoros/e2eedm-go/internal/mnemonic"
	"github.com/egregoros/e2eedm-go/internal/passkey"
)

// Unwrapper re-derives the wrapping key for one kind of record. Adding a
// recovery mechanism means adding a Record variant and its Unwrapper.
type Unwrapper interface {
	Kind() Kind
	// Available reports whether this device can service the kind at all.
	Available() bool
	// DeriveKey prompts the user as needed and returns the wrapping key.
	DeriveKey(ctx context.Context, rec Record) ([]byte, error)
}

// PasskeyUnwrapper asserts the recorded credential and feeds its PRF output
// through HKDF.
type PasskeyUnwrapper struct {
	Authenticator passkey.Authenticator
	RPID          string
}

func (u *PasskeyUnwrapper) Kind() Kind { return KindPasskey }

func (u *PasskeyUnwrapper) Available() bool { return u != nil && u.Authenticator != nil }

func (u *PasskeyUnwrapper) DeriveKey(ctx context.Context, rec Record) ([]byte, error) {
	r, ok := rec.(*PasskeyRecord)
	if !ok {
		return nil, fmt.Errorf("%w: passkey unwrapper given %s", ErrUnsupportedRecord, rec.Kind())
	}

	prf, err := passkey.EvaluatePRF(ctx, u.Authenticator, u.RPID, r.CredentialID, r.PRFSalt)
	if err != nil {
		return nil, err
	}
	return DeriveWrappingKey(prf, r.HKDFSalt, InfoPasskey)
}

// Prompter asks the user for their recovery phrase. Implementations return
// passkey.ErrUserCancelled when the user backs out.
type Prompter interface {
	RecoveryPhrase(ctx context.Context) (string, error)
}

// PromptFunc adapts a function to Prompter.
type PromptFunc func(ctx context.Context) (string, error)

// RecoveryPhrase implements Prompter.
func (f PromptFunc) RecoveryPhrase(ctx context.Context) (string, error) { return f(ctx) }

// MnemonicUnwrapper prompts for the 24-word phrase and feeds its entropy
// through HKDF. The phrase is never stored.
type MnemonicUnwrapper struct {
	Prompt Prompter
}

func (u *MnemonicUnwrapper) Kind() Kind { return KindMnemonic }

func (u *MnemonicUnwrapper) Available() bool { return u != nil && u.Prompt != nil }

func (u *MnemonicUnwrapper) DeriveKey(ctx context.Context, rec Record) ([]byte, error) {
	r, ok := rec.(*MnemonicRecord)
	if !ok {
		return nil, fmt.Errorf("%w: mnemonic unwrapper given %s", ErrUnsupportedRecord, rec.Kind())
	}

	phrase, err := u.Prompt.RecoveryPhrase(ctx)
	if err != nil {
		return nil, err
	}

	entropy, err := mnemonic.WordsToEntropy(phrase)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(entropy)

	return DeriveWrappingKey(entropy, r.HKDFSalt, InfoMnemonic)
}

// Select picks the record to unwrap: the most preferred kind for which an
// available unwrapper exists, and within that kind the first record listed.
func Select(records []Record, unwrappers []Unwrapper) (Record, Unwrapper, error) {
	for _, kind := range Preference {
		u := unwrapperFor(kind, unwrappers)
		if u == nil {
			continue
		}
		for _, rec := range records {
			if rec.Kind() == kind {
				return rec, u, nil
			}
		}
	}
	return nil, nil, ErrNoWrapperAvailable
}

func unwrapperFor(kind Kind, unwrappers []Unwrapper) Unwrapper {
	for _, u := range unwrappers {
		if u != nil && u.Kind() == kind && u.Available() {
			return u
		}
	}
	return nil
}
