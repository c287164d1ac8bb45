// ABOUTME: Parses opener-supplied transaction envelopes into display-ready structures
// ABOUTME: Dispatches on the action kind with a generic fallback for unknown kinds

package txparse

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/revibase/passkey-popup/internal/chain"
)

// ErrDecode indicates a malformed envelope or binary body.
// Envelope input is opener-controlled; everything here must fail with this
// error rather than panic.
var ErrDecode = errors.New("malformed transaction payload")

// Envelope is the wire form of a pending transaction.
type Envelope struct {
	ActionType   string                    `json:"transactionActionType"`
	Address      string                    `json:"transactionAddress"`
	MessageBytes protocol.URLEncodedBase64 `json:"transactionMessageBytes"`
}

// Body is the decoded, action-specific content of a parsed transaction.
type Body interface {
	body()
}

// TextBody is a plain display string (add_new_member hostname, close notice).
type TextBody struct {
	Text string
}

// ConfigBody is the decoded action list of a change_config transaction.
type ConfigBody struct {
	Actions []ConfigAction
}

// IntentBody is the decoded payload of a transfer intent.
type IntentBody struct {
	Intent IntentPayload
	Native bool
}

// CustomBody is the generic decoded transaction message.
type CustomBody struct {
	Message CustomMessage
}

func (TextBody) body()   {}
func (ConfigBody) body() {}
func (IntentBody) body() {}
func (CustomBody) body() {}

// ParsedTransaction is the typed, human-labeled form of a pending transaction.
type ParsedTransaction struct {
	RawEnvelope   string
	ActionType    ActionKind
	TargetAddress chain.Address
	MessageBytes  []byte
	Label         Label
	Decoded       Body
}

// Parse decodes a transaction envelope into its display structure.
// The envelope may arrive as bare JSON or base64url-encoded JSON; both
// transport encodings are accepted. redirectURL supplies the hostname shown
// for add_new_member actions.
func Parse(envelope, redirectURL string) (*ParsedTransaction, error) {
	raw := strings.TrimSpace(envelope)
	if !strings.HasPrefix(raw, "{") {
		decoded, err := decodeBase64URL(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: envelope is neither JSON nor base64url: %v", ErrDecode, err)
		}
		raw = string(decoded)
	}

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	target, err := chain.ParseAddress(env.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction address: %v", ErrDecode, err)
	}

	kind := ActionKind(env.ActionType)
	body, err := decodeBody(kind, env, target, redirectURL)
	if err != nil {
		return nil, err
	}

	return &ParsedTransaction{
		RawEnvelope:   envelope,
		ActionType:    kind,
		TargetAddress: target,
		MessageBytes:  []byte(env.MessageBytes),
		Label:         LabelFor(kind),
		Decoded:       body,
	}, nil
}

// decodeBody dispatches on the action kind. The default branch covers
// create, create_with_permissionless_execution, execute, vote, sync, and any
// unrecognized kind.
func decodeBody(kind ActionKind, env Envelope, target chain.Address, redirectURL string) (Body, error) {
	switch kind {
	case KindAddNewMember:
		u, err := url.Parse(redirectURL)
		if err != nil {
			return nil, fmt.Errorf("%w: redirect url: %v", ErrDecode, err)
		}
		return TextBody{Text: u.Hostname()}, nil

	case KindChangeConfig:
		actions, err := DecodeConfigActions(env.MessageBytes)
		if err != nil {
			return nil, err
		}
		return ConfigBody{Actions: actions}, nil

	case KindNativeTransferIntent:
		intent, err := DecodeIntent(env.MessageBytes, true)
		if err != nil {
			return nil, err
		}
		return IntentBody{Intent: *intent, Native: true}, nil

	case KindTokenTransferIntent:
		intent, err := DecodeIntent(env.MessageBytes, false)
		if err != nil {
			return nil, err
		}
		return IntentBody{Intent: *intent, Native: false}, nil

	case KindClose:
		return TextBody{Text: fmt.Sprintf("Closing transaction %s to reclaim rent fees.", target)}, nil

	default:
		msg, err := DecodeCustomMessage(env.MessageBytes)
		if err != nil {
			return nil, err
		}
		return CustomBody{Message: *msg}, nil
	}
}

// decodeBase64URL accepts both padded and unpadded base64url input.
func decodeBase64URL(s string) ([]byte, error) {
	if decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "=")); err == nil {
		return decoded, nil
	}
	return base64.URLEncoding.DecodeString(s)
}
