// ABOUTME: Websocket-backed authenticator delegating ceremonies to the popup client
// ABOUTME: The browser runs WebAuthn and returns the credential over the socket

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-webauthn/webauthn/protocol"

	"github.com/revibase/passkey-popup/internal/ceremony"
)

// ceremonyRequest asks the popup client to run one WebAuthn ceremony.
type ceremonyRequest struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Options any    `json:"options"`
}

// ceremonyResponse is the client's answer. Status "aborted" means the user
// dismissed the prompt.
type ceremonyResponse struct {
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	CredentialID string `json:"credentialId,omitempty"`

	Response struct {
		AuthenticatorData protocol.URLEncodedBase64 `json:"authenticatorData,omitempty"`
		ClientDataJSON    protocol.URLEncodedBase64 `json:"clientDataJSON,omitempty"`
		Signature         protocol.URLEncodedBase64 `json:"signature,omitempty"`
		Transports        []string                  `json:"transports,omitempty"`
	} `json:"response"`

	// Raw is the full credential JSON, forwarded verbatim in results.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// wsAuthenticator runs WebAuthn ceremonies by round-tripping through the
// popup websocket. One ceremony at a time; the popup read loop feeds
// responses in via deliver.
type wsAuthenticator struct {
	conn *websocket.Conn

	mu      sync.Mutex
	pending chan json.RawMessage
}

func (a *wsAuthenticator) GetAssertion(ctx context.Context, options protocol.PublicKeyCredentialRequestOptions) (*ceremony.AssertionResult, error) {
	resp, err := a.roundTrip(ctx, "get", options)
	if err != nil {
		return nil, err
	}
	return &ceremony.AssertionResult{
		CredentialID:      resp.CredentialID,
		RawResponse:       resp.Raw,
		AuthenticatorData: resp.Response.AuthenticatorData,
		ClientDataJSON:    resp.Response.ClientDataJSON,
		Signature:         resp.Response.Signature,
	}, nil
}

func (a *wsAuthenticator) CreateCredential(ctx context.Context, options protocol.PublicKeyCredentialCreationOptions) (*ceremony.RegistrationResult, error) {
	resp, err := a.roundTrip(ctx, "create", options)
	if err != nil {
		return nil, err
	}
	return &ceremony.RegistrationResult{
		CredentialID: resp.CredentialID,
		RawResponse:  resp.Raw,
		Transports:   resp.Response.Transports,
	}, nil
}

func (a *wsAuthenticator) roundTrip(ctx context.Context, kind string, options any) (*ceremonyResponse, error) {
	a.mu.Lock()
	if a.pending != nil {
		a.mu.Unlock()
		return nil, fmt.Errorf("a ceremony is already in progress")
	}
	pending := make(chan json.RawMessage, 1)
	a.pending = pending
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.pending = nil
		a.mu.Unlock()
	}()

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, a.conn, ceremonyRequest{Type: "ceremony", Kind: kind, Options: options}); err != nil {
		return nil, fmt.Errorf("requesting ceremony: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case raw := <-pending:
		var resp ceremonyResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("decoding ceremony response: %w", err)
		}
		switch resp.Status {
		case "ok":
			return &resp, nil
		case "aborted":
			return nil, ceremony.ErrCeremonyAborted
		default:
			return nil, fmt.Errorf("ceremony failed: %s", resp.Error)
		}
	}
}

// deliver hands a ceremony response to the waiting round trip. Responses
// with no waiter are dropped.
func (a *wsAuthenticator) deliver(raw json.RawMessage) {
	a.mu.Lock()
	pending := a.pending
	a.mu.Unlock()
	if pending == nil {
		return
	}
	select {
	case pending <- raw:
	default:
	}
}
