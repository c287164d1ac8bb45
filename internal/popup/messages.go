// ABOUTME: Wire message schema for the popup/opener cross-window protocol
// ABOUTME: Tagged union on the type field, JSON bodies

package popup

import (
	"encoding/json"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
)

// MessageType tags a cross-window protocol message.
type MessageType string

// Protocol message types.
const (
	// TypeReady is sent once by the popup when its channel activates.
	TypeReady MessageType = "popup-ready"

	// TypeHeartbeat is sent periodically so the opener can detect a popup
	// that died without firing an unload event.
	TypeHeartbeat MessageType = "popup-heartbeat"

	// TypeClosed is sent when the popup tears down.
	TypeClosed MessageType = "popup-closed"

	// TypeInit is the only inbound message the popup accepts; it seeds the
	// session state.
	TypeInit MessageType = "popup-init"

	// TypeComplete carries the serialized ceremony result back to the opener.
	TypeComplete MessageType = "popup-complete"
)

// Message is one cross-window protocol frame.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InitData is the pending action carried by an init message.
type InitData struct {
	// Type is "message" or "transaction".
	Type string `json:"type"`

	// Payload is the message text or the transaction envelope.
	Payload string `json:"payload"`
}

// AdditionalInfo carries opener-supplied context for the ceremony.
type AdditionalInfo struct {
	Recipient          string `json:"recipient,omitempty"`
	ShouldCreateWallet bool   `json:"shouldCreateWallet,omitempty"`
}

// InitPayload is the body of an init message.
type InitPayload struct {
	Data           *InitData                           `json:"data,omitempty"`
	PublicKey      string                              `json:"publicKey,omitempty"`
	IsRegister     bool                                `json:"isRegister,omitempty"`
	Hints          []protocol.PublicKeyCredentialHints `json:"hints,omitempty"`
	AdditionalInfo *AdditionalInfo                     `json:"additionalInfo,omitempty"`
}

// NewInitMessage builds an init frame. Used by the opener side of the bridge
// and by tests.
func NewInitMessage(payload InitPayload) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encoding init payload: %w", err)
	}
	return Message{Type: TypeInit, Payload: raw}, nil
}

// NewCompleteMessage builds a completion frame carrying the serialized result.
func NewCompleteMessage(result string) (Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Message{}, fmt.Errorf("encoding completion payload: %w", err)
	}
	return Message{Type: TypeComplete, Payload: raw}, nil
}

// Inbound is a received frame plus the transport facts the channel validates:
// whether the event was browser-generated and which origin posted it.
type Inbound struct {
	Origin  string
	Trusted bool
	Message Message
}
