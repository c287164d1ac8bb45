// ABOUTME: Popup session state and its reducer
// ABOUTME: State is mutated only through the action set; countdown floors at zero

package popup

import (
	"github.com/go-webauthn/webauthn/protocol"

	"github.com/revibase/passkey-popup/internal/txparse"
)

// Data is the pending action the popup was opened for.
// Exactly one concrete type per variant.
type Data interface {
	data()
}

// MessageData is a plain message awaiting a signature.
type MessageData struct {
	Text string
}

// TransactionData is a pending transaction awaiting approval.
type TransactionData struct {
	// Payload is the raw envelope string as received from the opener.
	Payload string

	// Parsed is the decoded display form.
	Parsed *txparse.ParsedTransaction
}

func (MessageData) data()     {}
func (TransactionData) data() {}

// State is the popup session's complete mutable state. It is owned by one
// session and mutated only through Apply.
type State struct {
	Error          string
	Response       string
	PublicKey      string
	Data           Data
	IsRegister     bool
	Hints          []protocol.PublicKeyCredentialHints
	Countdown      int
	CountdownStart int
	Loading        bool
	AdditionalInfo *AdditionalInfo
}

// InitialState returns the boot state: loading, countdown primed.
func InitialState(countdownStart int) State {
	return State{
		Countdown:      countdownStart,
		CountdownStart: countdownStart,
		Loading:        true,
	}
}

// Action is one state transition request.
type Action interface {
	action()
}

// SetError sets or clears (empty string) the user-visible error.
type SetError struct{ Message string }

// AddResponse records a completed ceremony result.
type AddResponse struct{ Payload string }

// ResetResponse clears any recorded result.
type ResetResponse struct{}

// SetPublicKey sets the requested credential public key.
type SetPublicKey struct{ Key string }

// SetData replaces the pending action.
type SetData struct{ Data Data }

// SetRegister toggles between authentication and registration flows.
type SetRegister struct{ IsRegister bool }

// SetHints replaces the WebAuthn credential hints.
type SetHints struct{ Hints []protocol.PublicKeyCredentialHints }

// DecrementCountdown ticks the redirect countdown down, flooring at zero.
type DecrementCountdown struct{}

// ResetCountdown restores the countdown to its starting value.
type ResetCountdown struct{}

// SetLoading toggles the loading flag.
type SetLoading struct{ Loading bool }

// Initialize seeds the session from an accepted init message.
type Initialize struct {
	RedirectURL string
	Payload     InitPayload
}

func (SetError) action()           {}
func (AddResponse) action()        {}
func (ResetResponse) action()      {}
func (SetPublicKey) action()       {}
func (SetData) action()            {}
func (SetRegister) action()        {}
func (SetHints) action()           {}
func (DecrementCountdown) action() {}
func (ResetCountdown) action()     {}
func (SetLoading) action()         {}
func (Initialize) action()         {}

// Apply returns the state after one action. Initialize parses transaction
// payloads; a malformed envelope becomes a user-visible error rather than a
// seeded session.
func Apply(s State, a Action) State {
	switch act := a.(type) {
	case SetError:
		s.Error = act.Message
	case AddResponse:
		s.Response = act.Payload
	case ResetResponse:
		s.Response = ""
	case SetPublicKey:
		s.PublicKey = act.Key
	case SetData:
		s.Data = act.Data
	case SetRegister:
		s.IsRegister = act.IsRegister
	case SetHints:
		s.Hints = act.Hints
	case DecrementCountdown:
		if s.Countdown > 0 {
			s.Countdown--
		}
	case ResetCountdown:
		s.Countdown = s.CountdownStart
	case SetLoading:
		s.Loading = act.Loading
	case Initialize:
		s = applyInitialize(s, act)
	}
	return s
}

func applyInitialize(s State, act Initialize) State {
	s.AdditionalInfo = act.Payload.AdditionalInfo
	s.PublicKey = act.Payload.PublicKey
	s.IsRegister = act.Payload.IsRegister
	s.Hints = act.Payload.Hints
	s.Response = ""
	s.Countdown = s.CountdownStart
	s.Error = ""
	s.Loading = false
	s.Data = nil

	if act.Payload.Data == nil {
		return s
	}

	switch act.Payload.Data.Type {
	case "message":
		s.Data = MessageData{Text: act.Payload.Data.Payload}
	case "transaction":
		parsed, err := txparse.Parse(act.Payload.Data.Payload, act.RedirectURL)
		if err != nil {
			s.Error = err.Error()
			return s
		}
		s.Data = TransactionData{Payload: act.Payload.Data.Payload, Parsed: parsed}
	}
	return s
}
