// ABOUTME: Passkey authentication flow for messages and transactions
// ABOUTME: Credential lookup, challenge derivation, assertion, result assembly

package ceremony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/revibase/passkey-popup/internal/challenge"
	"github.com/revibase/passkey-popup/internal/config"
	"github.com/revibase/passkey-popup/internal/passkeydb"
	"github.com/revibase/passkey-popup/internal/popup"
)

// ErrCredentialMismatch indicates the stored credential does not match the
// public key the opener asked for. Fatal: retrying with the same key cannot
// succeed.
var ErrCredentialMismatch = errors.New("public key mismatch")

// ErrUnregisteredCredential indicates the assertion used a credential the
// storage service has no record of.
var ErrUnregisteredCredential = errors.New("passkey is not registered")

// Service runs authentication ceremonies for the popup session.
type Service struct {
	db         *passkeydb.Client
	challenges *challenge.Builder
	authn      Authenticator
	rp         config.RelyingPartyConfig
	logger     *slog.Logger
}

// NewService assembles an authentication service from its collaborators.
func NewService(db *passkeydb.Client, challenges *challenge.Builder, authn Authenticator, rp config.RelyingPartyConfig, logger *slog.Logger) *Service {
	return &Service{
		db:         db,
		challenges: challenges,
		authn:      authn,
		rp:         rp,
		logger:     logger,
	}
}

// AuthenticateParams carries the session state the ceremony needs.
type AuthenticateParams struct {
	Data      popup.Data
	PublicKey string
	Hints     []protocol.PublicKeyCredentialHints
}

// AuthenticateResult is the serialized outcome sent back to the opener.
// SlotNumber and SlotHash are null for message signatures: only transaction
// challenges are anchored to a slot.
type AuthenticateResult struct {
	AuthResponse json.RawMessage `json:"authResponse"`
	Username     string          `json:"username"`
	PublicKey    string          `json:"publicKey"`
	SlotNumber   *string         `json:"slotNumber"`
	SlotHash     *string         `json:"slotHash"`
}

// Authenticate runs one assertion ceremony over the pending action.
// A nil Data is a no-op. A user-aborted ceremony returns (nil, nil): the
// popup stays open and the user may try again. All other failures return
// an error for display.
func (s *Service) Authenticate(ctx context.Context, params AuthenticateParams) (*AuthenticateResult, error) {
	if params.Data == nil {
		return nil, nil
	}

	stored, err := s.lookupRequested(ctx, params.PublicKey)
	if err != nil {
		return nil, err
	}

	challengeBytes, slotNumber, slotHash, err := s.deriveChallenge(ctx, params.Data)
	if err != nil {
		return nil, err
	}

	allowed, err := allowList(stored)
	if err != nil {
		return nil, err
	}

	assertion, err := s.authn.GetAssertion(ctx, protocol.PublicKeyCredentialRequestOptions{
		RelyingPartyID:     s.rp.ID,
		Challenge:          protocol.URLEncodedBase64(challengeBytes),
		AllowedCredentials: allowed,
		Hints:              params.Hints,
	})
	if err != nil {
		if errors.Is(err, ErrCeremonyAborted) {
			s.logger.Debug("assertion ceremony aborted by user")
			return nil, nil
		}
		return nil, err
	}

	if stored == nil {
		stored, err = s.db.ByCredentialID(ctx, assertion.CredentialID)
		if errors.Is(err, passkeydb.ErrUnregistered) {
			return nil, ErrUnregisteredCredential
		}
		if err != nil {
			return nil, err
		}
	}

	return &AuthenticateResult{
		AuthResponse: assertion.RawResponse,
		Username:     stored.Username,
		PublicKey:    stored.PublicKey,
		SlotNumber:   slotNumber,
		SlotHash:     slotHash,
	}, nil
}

// lookupRequested resolves the credential record for an opener-requested
// public key. An unregistered key is not an error here: the assertion runs
// discoverable and the record is resolved afterwards. A record bound to a
// different key is fatal.
func (s *Service) lookupRequested(ctx context.Context, publicKey string) (*passkeydb.Passkey, error) {
	if publicKey == "" {
		return nil, nil
	}

	stored, err := s.db.ByPublicKey(ctx, publicKey)
	if errors.Is(err, passkeydb.ErrUnregistered) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if stored.PublicKey != "" && stored.PublicKey != publicKey {
		return nil, ErrCredentialMismatch
	}
	return stored, nil
}

// deriveChallenge produces the assertion challenge for the pending action.
// Messages sign their raw UTF-8 bytes; transactions sign a slot-anchored
// digest and carry the anchor back in the result.
func (s *Service) deriveChallenge(ctx context.Context, data popup.Data) ([]byte, *string, *string, error) {
	switch d := data.(type) {
	case popup.MessageData:
		return challenge.ForMessage(d.Text), nil, nil, nil

	case popup.TransactionData:
		if d.Parsed == nil {
			return nil, nil, nil, fmt.Errorf("transaction payload was not parsed")
		}
		ch, err := s.challenges.Build(ctx, d.Parsed.ActionType, d.Parsed.TargetAddress, d.Parsed.MessageBytes)
		if err != nil {
			return nil, nil, nil, err
		}
		return ch.Bytes[:], &ch.SlotNumber, &ch.SlotHash, nil

	default:
		return nil, nil, nil, fmt.Errorf("invalid challenge message")
	}
}

// allowList builds the assertion allow-list from a stored record. Transports
// are stored comma-separated. A record whose credential id does not decode
// is an error: dropping it would silently widen the ceremony to any
// discoverable credential.
func allowList(stored *passkeydb.Passkey) ([]protocol.CredentialDescriptor, error) {
	if stored == nil || stored.CredentialID == "" {
		return nil, nil
	}

	id, err := base64.RawURLEncoding.DecodeString(stored.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("stored credential id %q is not valid base64url: %w", stored.CredentialID, err)
	}

	var transports []protocol.AuthenticatorTransport
	for _, t := range strings.Split(stored.Transports, ",") {
		if t = strings.TrimSpace(t); t != "" {
			transports = append(transports, protocol.AuthenticatorTransport(t))
		}
	}

	return []protocol.CredentialDescriptor{{
		Type:         protocol.PublicKeyCredentialType,
		CredentialID: protocol.URLEncodedBase64(id),
		Transport:    transports,
	}}, nil
}
