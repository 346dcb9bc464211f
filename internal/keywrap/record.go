package keywrap

import (
	"encoding/json"
	"fmt"

	"github.com/egregoros/e2eedm-go/internal/api"
	"github.com/egregoros/e2eedm-go/internal/crypto"
	"github.com/egregoros/e2eedm-go/internal/mnemonic"
)

// Kind is a wrapper record type as stored by the server.
type Kind string

const (
	KindPasskey  Kind = api.WrapperTypePasskey
	KindMnemonic Kind = api.WrapperTypeMnemonic
)

// Preference lists wrapper kinds from most to least preferred.
var Preference = []Kind{KindPasskey, KindMnemonic}

// Record is one stored wrapper. Implementations are *PasskeyRecord and
// *MnemonicRecord.
type Record interface {
	Kind() Kind
	// Wrapped returns the sealed private key.
	Wrapped() []byte
	// Nonce returns the AES-GCM nonce used to seal the private key.
	Nonce() []byte
	// Wire encodes the record for registration.
	Wire() (api.WrapperRecord, error)
}

// PasskeyRecord is a key wrapped under a passkey PRF output.
type PasskeyRecord struct {
	WrappedPrivateKey []byte
	CredentialID      []byte
	PRFSalt           []byte
	HKDFSalt          []byte
	IV                []byte
}

// MnemonicRecord is a key wrapped under recovery phrase entropy.
type MnemonicRecord struct {
	WrappedPrivateKey []byte
	HKDFSalt          []byte
	IV                []byte
}

type passkeyParams struct {
	CredentialID string `json:"credential_id"`
	PRFSalt      string `json:"prf_salt"`
	HKDFSalt     string `json:"hkdf_salt"`
	IV           string `json:"iv"`
	Alg          string `json:"alg"`
	KDF          string `json:"kdf"`
	Info         string `json:"info"`
}

type mnemonicParams struct {
	HKDFSalt string `json:"hkdf_salt"`
	IV       string `json:"iv"`
	Alg      string `json:"alg"`
	KDF      string `json:"kdf"`
	Info     string `json:"info"`
	Wordlist string `json:"wordlist"`
	Words    int    `json:"words"`
}

func (r *PasskeyRecord) Kind() Kind      { return KindPasskey }
func (r *PasskeyRecord) Wrapped() []byte { return r.WrappedPrivateKey }
func (r *PasskeyRecord) Nonce() []byte   { return r.IV }

func (r *PasskeyRecord) Wire() (api.WrapperRecord, error) {
	return wire(KindPasskey, r.WrappedPrivateKey, passkeyParams{
		CredentialID: crypto.ToBase64URL(r.CredentialID),
		PRFSalt:      crypto.ToBase64URL(r.PRFSalt),
		HKDFSalt:     crypto.ToBase64URL(r.HKDFSalt),
		IV:           crypto.ToBase64URL(r.IV),
		Alg:          crypto.AlgA256GCM,
		KDF:          crypto.KDFHKDFSHA256,
		Info:         InfoPasskey,
	})
}

func (r *MnemonicRecord) Kind() Kind      { return KindMnemonic }
func (r *MnemonicRecord) Wrapped() []byte { return r.WrappedPrivateKey }
func (r *MnemonicRecord) Nonce() []byte   { return r.IV }

func (r *MnemonicRecord) Wire() (api.WrapperRecord, error) {
	return wire(KindMnemonic, r.WrappedPrivateKey, mnemonicParams{
		HKDFSalt: crypto.ToBase64URL(r.HKDFSalt),
		IV:       crypto.ToBase64URL(r.IV),
		Alg:      crypto.AlgA256GCM,
		KDF:      crypto.KDFHKDFSHA256,
		Info:     InfoMnemonic,
		Wordlist: mnemonic.Wordlist,
		Words:    mnemonic.WordCount,
	})
}

func wire(kind Kind, wrapped []byte, params any) (api.WrapperRecord, error) {
	if len(wrapped) == 0 {
		return api.WrapperRecord{}, fmt.Errorf("%w: record is not sealed", ErrMalformedRecord)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return api.WrapperRecord{}, fmt.Errorf("encode %s params: %w", kind, err)
	}
	return api.WrapperRecord{
		Type:              string(kind),
		WrappedPrivateKey: crypto.ToBase64URL(wrapped),
		Params:            raw,
	}, nil
}

// ParseRecord decodes a server wrapper record into its typed variant.
// Unknown types and parameter sets this client cannot honour yield
// ErrUnsupportedRecord.
func ParseRecord(w api.WrapperRecord) (Record, error) {
	wrapped, err := crypto.DecodeBase64(w.WrappedPrivateKey)
	if err != nil || len(wrapped) == 0 {
		return nil, fmt.Errorf("%w: wrapped_private_key", ErrMalformedRecord)
	}

	switch Kind(w.Type) {
	case KindPasskey:
		var p passkeyParams
		if err := json.Unmarshal(w.Params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
		if err := checkSuite(p.Alg, p.KDF, p.Info, InfoPasskey); err != nil {
			return nil, err
		}
		rec := &PasskeyRecord{WrappedPrivateKey: wrapped}
		if err := decodeFields(map[string]*[]byte{
			"credential_id": &rec.CredentialID,
			"prf_salt":      &rec.PRFSalt,
			"hkdf_salt":     &rec.HKDFSalt,
			"iv":            &rec.IV,
		}, map[string]string{
			"credential_id": p.CredentialID,
			"prf_salt":      p.PRFSalt,
			"hkdf_salt":     p.HKDFSalt,
			"iv":            p.IV,
		}); err != nil {
			return nil, err
		}
		return rec, nil

	case KindMnemonic:
		var p mnemonicParams
		if err := json.Unmarshal(w.Params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
		if err := checkSuite(p.Alg, p.KDF, p.Info, InfoMnemonic); err != nil {
			return nil, err
		}
		if (p.Wordlist != "" && p.Wordlist != mnemonic.Wordlist) || (p.Words != 0 && p.Words != mnemonic.WordCount) {
			return nil, fmt.Errorf("%w: wordlist %q with %d words", ErrUnsupportedRecord, p.Wordlist, p.Words)
		}
		rec := &MnemonicRecord{WrappedPrivateKey: wrapped}
		if err := decodeFields(map[string]*[]byte{
			"hkdf_salt": &rec.HKDFSalt,
			"iv":        &rec.IV,
		}, map[string]string{
			"hkdf_salt": p.HKDFSalt,
			"iv":        p.IV,
		}); err != nil {
			return nil, err
		}
		return rec, nil

	default:
		return nil, fmt.Errorf("%w: type %q", ErrUnsupportedRecord, w.Type)
	}
}

// ParseRecords decodes every record it can and returns the rest as errors
// so callers may log them.
func ParseRecords(ws []api.WrapperRecord) ([]Record, []error) {
	var (
		records []Record
		errs    []error
	)
	for _, w := range ws {
		rec, err := ParseRecord(w)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, rec)
	}
	return records, errs
}

// checkSuite rejects records that name an algorithm other than the one this
// package implements. Empty fields are tolerated.
func checkSuite(alg, kdf, info, wantInfo string) error {
	if alg != "" && alg != crypto.AlgA256GCM {
		return fmt.Errorf("%w: alg %q", ErrUnsupportedRecord, alg)
	}
	if kdf != "" && kdf != crypto.KDFHKDFSHA256 {
		return fmt.Errorf("%w: kdf %q", ErrUnsupportedRecord, kdf)
	}
	if info != "" && info != wantInfo {
		return fmt.Errorf("%w: info %q", ErrUnsupportedRecord, info)
	}
	return nil
}

var fieldSizes = map[string]int{
	"prf_salt":  crypto.SaltSize,
	"hkdf_salt": crypto.SaltSize,
	"iv":        crypto.AESNonceSize,
}

func decodeFields(dst map[string]*[]byte, src map[string]string) error {
	for name, value := range src {
		b, err := crypto.DecodeBase64(value)
		if err != nil || len(b) == 0 {
			return fmt.Errorf("%w: %s", ErrMalformedRecord, name)
		}
		if want, ok := fieldSizes[name]; ok && len(b) != want {
			return fmt.Errorf("%w: %s has %d bytes, want %d", ErrMalformedRecord, name, len(b), want)
		}
		*dst[name] = b
	}
	return nil
}
