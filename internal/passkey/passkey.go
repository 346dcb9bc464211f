// Package passkey describes the platform authenticator boundary used to
// derive wrapping keys from the WebAuthn PRF (hmac-secret) extension.
package passkey

import (
	"context"
	"errors"

	"github.com/egregoros/e2eedm-go/internal/crypto"
)

var (
	// ErrPRFUnsupported is returned when the authenticator produced neither
	// a PRF result nor an hmac-secret output.
	ErrPRFUnsupported = errors.New("authenticator does not support the PRF or hmac-secret extension")

	// ErrUserCancelled is returned when the user dismisses the prompt.
	ErrUserCancelled = errors.New("user cancelled")
)

const (
	// AlgES256 is the COSE identifier for ECDSA with SHA-256 on P-256.
	AlgES256 = -7

	// RequirementRequired is the WebAuthn "required" enum value.
	RequirementRequired = "required"

	// CredentialTypePublicKey is the only credential type used.
	CredentialTypePublicKey = "public-key"

	// DefaultRPName is the relying party display name.
	DefaultRPName = "Egregoros"

	// ChallengeSize is the size of locally generated challenges.
	ChallengeSize = 32

	// PRFSaltSize is the size of the PRF evaluation salt.
	PRFSaltSize = 32
)

// Authenticator is a platform authenticator capable of creating resident
// credentials and asserting them with the PRF extension.
type Authenticator interface {
	Create(ctx context.Context, opts *CreationOptions) (*Credential, error)
	Assert(ctx context.Context, opts *AssertionOptions) (*Assertion, error)
}

// RelyingParty identifies the site the credential is scoped to.
type RelyingParty struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// User is the account the credential is created for.
type User struct {
	ID          []byte `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// CredentialParameter selects a public key algorithm.
type CredentialParameter struct {
	Type string `json:"type"`
	Alg  int    `json:"alg"`
}

// AuthenticatorSelection constrains which authenticators may respond.
type AuthenticatorSelection struct {
	ResidentKey      string `json:"residentKey"`
	UserVerification string `json:"userVerification"`
}

// PRFValues carries PRF inputs or outputs.
type PRFValues struct {
	First  []byte `json:"first"`
	Second []byte `json:"second,omitempty"`
}

// PRFInput requests PRF evaluation.
type PRFInput struct {
	Eval PRFValues `json:"eval"`
}

// HMACGetSecretInput is the legacy hmac-secret request.
type HMACGetSecretInput struct {
	Salt1 []byte `json:"salt1"`
}

// CreationExtensions are the client extension inputs for credential
// creation.
type CreationExtensions struct {
	HMACCreateSecret bool      `json:"hmacCreateSecret"`
	PRF              *PRFInput `json:"prf,omitempty"`
}

// AssertionExtensions are the client extension inputs for an assertion.
type AssertionExtensions struct {
	HMACGetSecret *HMACGetSecretInput `json:"hmacGetSecret,omitempty"`
	PRF           *PRFInput           `json:"prf,omitempty"`
}

// CreationOptions mirrors PublicKeyCredentialCreationOptions.
type CreationOptions struct {
	Challenge              []byte                 `json:"challenge"`
	RP                     RelyingParty           `json:"rp"`
	User                   User                   `json:"user"`
	PubKeyCredParams       []CredentialParameter  `json:"pubKeyCredParams"`
	AuthenticatorSelection AuthenticatorSelection `json:"authenticatorSelection"`
	Attestation            string                 `json:"attestation,omitempty"`
	Extensions             CreationExtensions     `json:"extensions"`
}

// CredentialDescriptor references an existing credential.
type CredentialDescriptor struct {
	Type string `json:"type"`
	ID   []byte `json:"id"`
}

// AssertionOptions mirrors PublicKeyCredentialRequestOptions.
type AssertionOptions struct {
	Challenge        []byte                 `json:"challenge"`
	RPID             string                 `json:"rpId,omitempty"`
	AllowCredentials []CredentialDescriptor `json:"allowCredentials"`
	UserVerification string                 `json:"userVerification"`
	Extensions       AssertionExtensions    `json:"extensions"`
}

// PRFResults is the prf client extension output.
type PRFResults struct {
	Enabled bool       `json:"enabled,omitempty"`
	Results *PRFValues `json:"results,omitempty"`
}

// HMACGetSecretOutput is the legacy hmac-secret output.
type HMACGetSecretOutput struct {
	Output1 []byte `json:"output1"`
	Output2 []byte `json:"output2,omitempty"`
}

// ExtensionResults are the client extension outputs of a ceremony.
type ExtensionResults struct {
	PRF           *PRFResults          `json:"prf,omitempty"`
	HMACGetSecret *HMACGetSecretOutput `json:"hmacGetSecret,omitempty"`
}

// Credential is the result of a creation ceremony.
type Credential struct {
	RawID      []byte
	Extensions ExtensionResults
}

// Assertion is the result of an assertion ceremony.
type Assertion struct {
	RawID      []byte
	Extensions ExtensionResults
}

// PRFOutput returns the PRF result, preferring prf.results.first and
// falling back to hmacGetSecret.output1.
func (r ExtensionResults) PRFOutput() ([]byte, error) {
	if r.PRF != nil && r.PRF.Results != nil && len(r.PRF.Results.First) > 0 {
		return r.PRF.Results.First, nil
	}
	if r.HMACGetSecret != nil && len(r.HMACGetSecret.Output1) > 0 {
		return r.HMACGetSecret.Output1, nil
	}
	return nil, ErrPRFUnsupported
}

// UserHandle returns the opaque WebAuthn user handle for an account id.
func UserHandle(userID string) []byte {
	return []byte("egregoros:user:" + userID)
}

// NewCreationOptions builds options for a resident, user-verified ES256
// credential that also evaluates the PRF with prfSalt.
func NewCreationOptions(rp RelyingParty, user User, prfSalt []byte) (*CreationOptions, error) {
	challenge, err := crypto.RandomBytes(ChallengeSize)
	if err != nil {
		return nil, err
	}
	if rp.Name == "" {
		rp.Name = DefaultRPName
	}
	return &CreationOptions{
		Challenge:        challenge,
		RP:               rp,
		User:             user,
		PubKeyCredParams: []CredentialParameter{{Type: CredentialTypePublicKey, Alg: AlgES256}},
		AuthenticatorSelection: AuthenticatorSelection{
			ResidentKey:      RequirementRequired,
			UserVerification: RequirementRequired,
		},
		Attestation: "none",
		Extensions: CreationExtensions{
			HMACCreateSecret: true,
			PRF:              &PRFInput{Eval: PRFValues{First: prfSalt}},
		},
	}, nil
}

// NewAssertionOptions builds options that re-assert credentialID and
// evaluate the PRF with prfSalt through both extension spellings.
func NewAssertionOptions(rpID string, credentialID, prfSalt []byte) (*AssertionOptions, error) {
	challenge, err := crypto.RandomBytes(ChallengeSize)
	if err != nil {
		return nil, err
	}
	return &AssertionOptions{
		Challenge:        challenge,
		RPID:             rpID,
		AllowCredentials: []CredentialDescriptor{{Type: CredentialTypePublicKey, ID: credentialID}},
		UserVerification: RequirementRequired,
		Extensions: AssertionExtensions{
			HMACGetSecret: &HMACGetSecretInput{Salt1: prfSalt},
			PRF:           &PRFInput{Eval: PRFValues{First: prfSalt}},
		},
	}, nil
}

// EvaluatePRF asserts credentialID and returns the PRF output for prfSalt.
func EvaluatePRF(ctx context.Context, auth Authenticator, rpID string, credentialID, prfSalt []byte) ([]byte, error) {
	opts, err := NewAssertionOptions(rpID, credentialID, prfSalt)
	if err != nil {
		return nil, err
	}
	assertion, err := auth.Assert(ctx, opts)
	if err != nil {
		return nil, err
	}
	return assertion.Extensions.PRFOutput()
}
