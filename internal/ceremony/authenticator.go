// ABOUTME: Authenticator abstraction over the WebAuthn client ceremonies
// ABOUTME: Implementations drive a platform authenticator; tests use fakes

package ceremony

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-webauthn/webauthn/protocol"
)

// ErrCeremonyAborted indicates the user dismissed the authenticator prompt.
// Callers treat it as a non-event rather than a failure.
var ErrCeremonyAborted = errors.New("ceremony aborted by user")

// AssertionResult is a completed assertion (get) ceremony.
type AssertionResult struct {
	// CredentialID is the base64url credential id the authenticator used.
	CredentialID string

	// RawResponse is the full assertion response JSON, passed through
	// verbatim to the opener.
	RawResponse json.RawMessage

	AuthenticatorData []byte
	ClientDataJSON    []byte

	// Signature is the ASN.1 DER ECDSA signature as the authenticator
	// produced it.
	Signature []byte
}

// RegistrationResult is a completed registration (create) ceremony.
type RegistrationResult struct {
	CredentialID string
	RawResponse  json.RawMessage
	Transports   []string
}

// Authenticator runs WebAuthn ceremonies against a platform or roaming
// authenticator. Both methods return ErrCeremonyAborted when the user
// cancels.
type Authenticator interface {
	GetAssertion(ctx context.Context, options protocol.PublicKeyCredentialRequestOptions) (*AssertionResult, error)
	CreateCredential(ctx context.Context, options protocol.PublicKeyCredentialCreationOptions) (*RegistrationResult, error)
}
