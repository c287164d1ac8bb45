// ABOUTME: Websocket bridge pairing wallet openers with popup ceremony sessions
// ABOUTME: Sessions are keyed by uuid; opener frames flow through the popup channel

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/revibase/passkey-popup/internal/ceremony"
	"github.com/revibase/passkey-popup/internal/chain"
	"github.com/revibase/passkey-popup/internal/challenge"
	"github.com/revibase/passkey-popup/internal/config"
	"github.com/revibase/passkey-popup/internal/display"
	"github.com/revibase/passkey-popup/internal/passkeydb"
	"github.com/revibase/passkey-popup/internal/payer"
	"github.com/revibase/passkey-popup/internal/popup"
)

const writeTimeout = 5 * time.Second

// BridgeDeps are the collaborators one bridge serves to every session.
type BridgeDeps struct {
	Config     *config.Config
	RPC        *chain.Client
	DB         *passkeydb.Client
	Payers     *payer.Client
	Challenges *challenge.Builder
	Renderer   *display.Renderer
	Logger     *slog.Logger
}

// Bridge pairs opener and popup websockets into ceremony sessions.
type Bridge struct {
	deps BridgeDeps

	mu       sync.Mutex
	sessions map[string]*bridgeSession
}

// NewBridge creates an empty bridge.
func NewBridge(deps BridgeDeps) *Bridge {
	return &Bridge{
		deps:     deps,
		sessions: make(map[string]*bridgeSession),
	}
}

// bridgeSession is one opener/popup pair.
type bridgeSession struct {
	id       string
	redirect string
	origin   string

	opener *websocket.Conn

	mu           sync.Mutex
	popupConn    *websocket.Conn
	session      *popup.Session
	authn        *wsAuthenticator
	registration *ceremony.Registration
}

// sessionCreated is the first frame sent to a connecting opener.
type sessionCreated struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	PopupPath string `json:"popupPath"`
}

// openerFrame wraps an outbound protocol message with its target origin,
// mirroring a postMessage call.
type openerFrame struct {
	TargetOrigin string        `json:"targetOrigin"`
	Message      popup.Message `json:"message"`
}

// popupFrame is one frame received from the popup client: either a user
// command or a ceremony response.
type popupFrame struct {
	Type      string          `json:"type"`
	Command   string          `json:"command,omitempty"`
	Username  string          `json:"username,omitempty"`
	Turnstile string          `json:"turnstile,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// stateFrame is the session snapshot pushed to the popup client after every
// state change.
type stateFrame struct {
	Type     string            `json:"type"`
	State    popup.State       `json:"state"`
	Sections []display.Section `json:"sections,omitempty"`
	Stage    ceremony.Stage    `json:"stage,omitempty"`
}

func (b *Bridge) acceptOptions() *websocket.AcceptOptions {
	patterns := []string{hostOf(b.deps.Config.Endpoints.FrameAncestor), b.deps.Config.RelyingParty.ID}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

// HandleOpener accepts the wallet-side websocket. The opener supplies the
// redirect URL, receives a session id to open the popup with, and then
// exchanges protocol frames: inbound frames are validated through the popup
// channel, outbound frames are the popup-* messages.
func (b *Bridge) HandleOpener(w http.ResponseWriter, r *http.Request) {
	redirect := r.URL.Query().Get("redirect")
	if redirect == "" {
		http.Error(w, "missing redirect parameter", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, b.acceptOptions())
	if err != nil {
		b.deps.Logger.Warn("opener accept failed", "error", err)
		return
	}

	bs := &bridgeSession{
		id:       uuid.NewString(),
		redirect: redirect,
		origin:   r.Header.Get("Origin"),
		opener:   conn,
	}
	b.mu.Lock()
	b.sessions[bs.id] = bs
	b.mu.Unlock()

	logger := b.deps.Logger.With("session_id", bs.id)
	logger.Info("opener connected", "origin", bs.origin)

	defer func() {
		b.remove(bs)
		logger.Info("opener disconnected")
	}()

	ctx := r.Context()
	if err := writeJSON(ctx, conn, sessionCreated{
		Type:      "session-created",
		SessionID: bs.id,
		PopupPath: "/popup/" + bs.id,
	}); err != nil {
		return
	}

	for {
		var msg popup.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}

		bs.mu.Lock()
		session := bs.session
		bs.mu.Unlock()
		if session == nil {
			logger.Debug("dropping opener frame before popup attach", "type", msg.Type)
			continue
		}

		// The websocket handshake already verified the Origin header, so
		// frames arriving here are browser-generated.
		session.HandleInbound(popup.Inbound{
			Origin:  bs.origin,
			Trusted: true,
			Message: msg,
		})
		b.pushState(ctx, bs)
	}
}

// HandlePopup accepts the popup-side websocket, creates the ceremony session,
// and serves user commands until the popup closes.
func (b *Bridge) HandlePopup(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	bs := b.sessions[r.PathValue("id")]
	b.mu.Unlock()
	if bs == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, b.acceptOptions())
	if err != nil {
		b.deps.Logger.Warn("popup accept failed", "error", err)
		return
	}

	logger := b.deps.Logger.With("session_id", bs.id)

	session, err := popup.NewSession(
		bs.redirect,
		&wsMessenger{conn: bs.opener},
		b.deps.Config.Popup,
		popup.RealClock(),
		logger.With("component", "session"),
	)
	if err != nil {
		logger.Warn("rejecting popup", "error", err)
		conn.Close(websocket.StatusPolicyViolation, "invalid redirect url")
		return
	}

	authn := &wsAuthenticator{conn: conn}
	bs.mu.Lock()
	if bs.popupConn != nil {
		bs.mu.Unlock()
		conn.Close(websocket.StatusPolicyViolation, "session already has a popup")
		return
	}
	bs.popupConn = conn
	bs.session = session
	bs.authn = authn
	bs.mu.Unlock()

	if err := session.Start(); err != nil {
		logger.Warn("session start failed", "error", err)
		conn.Close(websocket.StatusInternalError, "session start failed")
		return
	}
	logger.Info("popup attached")

	defer func() {
		session.Stop()
		conn.Close(websocket.StatusNormalClosure, "session closed")
		logger.Info("popup detached")
	}()

	ctx := r.Context()
	for {
		var frame popupFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return
		}

		switch frame.Type {
		case "ceremony-response":
			authn.deliver(frame.Payload)
		case "command":
			// Commands block on ceremony round trips, which resolve via
			// frames read by this loop, so they must not run inline.
			go b.runCommand(ctx, bs, frame, logger)
		default:
			logger.Debug("ignoring unknown popup frame", "type", frame.Type)
		}
	}
}

// runCommand executes one user command against the session.
func (b *Bridge) runCommand(ctx context.Context, bs *bridgeSession, frame popupFrame, logger *slog.Logger) {
	session := bs.session

	switch frame.Command {
	case "authenticate":
		state := session.State()
		session.Dispatch(popup.SetError{})

		svc := ceremony.NewService(b.deps.DB, b.deps.Challenges, bs.authn, b.deps.Config.RelyingParty, logger)
		result, err := svc.Authenticate(ctx, ceremony.AuthenticateParams{
			Data:      state.Data,
			PublicKey: state.PublicKey,
			Hints:     state.Hints,
		})
		switch {
		case err != nil:
			session.Dispatch(popup.SetError{Message: err.Error()})
		case result != nil:
			encoded, err := json.Marshal(result)
			if err != nil {
				session.Dispatch(popup.SetError{Message: err.Error()})
				break
			}
			session.Dispatch(popup.AddResponse{Payload: string(encoded)})
		}

	case "register":
		state := session.State()
		shouldCreateWallet := state.AdditionalInfo != nil && state.AdditionalInfo.ShouldCreateWallet
		message := ""
		if data, ok := state.Data.(popup.MessageData); ok {
			message = data.Text
		}

		reg := ceremony.NewRegistration(
			b.deps.DB, b.deps.Challenges, bs.authn, b.deps.RPC, b.deps.Payers,
			b.deps.Config.RelyingParty,
			ceremony.RegistrationParams{
				Username:           frame.Username,
				Message:            message,
				Hints:              state.Hints,
				ShouldCreateWallet: shouldCreateWallet,
				TurnstileResponse:  frame.Turnstile,
			},
			logger.With("component", "registration"),
		)
		bs.mu.Lock()
		bs.registration = reg
		bs.mu.Unlock()

		b.finishRegistrationStep(reg.Register(ctx), reg, session, logger)

	case "create-wallet":
		if reg := bs.currentRegistration(); reg != nil {
			b.finishRegistrationStep(reg.CreateWallet(ctx), reg, session, logger)
		}

	case "retry":
		if reg := bs.currentRegistration(); reg != nil {
			b.finishRegistrationStep(reg.Retry(ctx), reg, session, logger)
		}

	case "redirect-now":
		if err := session.RedirectNow(); err != nil {
			logger.Warn("redirect failed", "error", err)
		}

	default:
		logger.Debug("ignoring unknown command", "command", frame.Command)
	}

	b.pushState(ctx, bs)
}

// finishRegistrationStep reflects a registration step outcome into session
// state. Errors stay inside the registration's stage; only a completed flow
// records the response for delivery.
func (b *Bridge) finishRegistrationStep(err error, reg *ceremony.Registration, session *popup.Session, logger *slog.Logger) {
	if err != nil {
		logger.Warn("registration step failed", "stage", reg.Stage(), "error", err)
		return
	}
	if reg.Stage() == ceremony.StageComplete {
		session.Dispatch(popup.AddResponse{Payload: reg.Response()})
	}
}

func (bs *bridgeSession) currentRegistration() *ceremony.Registration {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.registration
}

// pushState sends the current session snapshot and rendered sections to the
// popup client.
func (b *Bridge) pushState(ctx context.Context, bs *bridgeSession) {
	bs.mu.Lock()
	conn := bs.popupConn
	session := bs.session
	reg := bs.registration
	bs.mu.Unlock()
	if conn == nil || session == nil {
		return
	}

	state := session.State()
	sections, err := b.deps.Renderer.Sections(ctx, state.Data, state.AdditionalInfo)
	if err != nil {
		b.deps.Logger.Warn("rendering sections failed", "session_id", bs.id, "error", err)
	}

	frame := stateFrame{Type: "state", State: state, Sections: sections}
	if reg != nil {
		frame.Stage = reg.Stage()
	}
	if err := writeJSON(ctx, conn, frame); err != nil {
		b.deps.Logger.Debug("state push failed", "session_id", bs.id, "error", err)
	}
}

// remove tears down a session pair.
func (b *Bridge) remove(bs *bridgeSession) {
	b.mu.Lock()
	delete(b.sessions, bs.id)
	b.mu.Unlock()

	bs.mu.Lock()
	session := bs.session
	popupConn := bs.popupConn
	bs.mu.Unlock()

	if session != nil {
		session.Stop()
	}
	if popupConn != nil {
		popupConn.Close(websocket.StatusGoingAway, "opener disconnected")
	}
	bs.opener.Close(websocket.StatusNormalClosure, "session closed")
}

// Shutdown closes every live session.
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	sessions := make([]*bridgeSession, 0, len(b.sessions))
	for _, bs := range b.sessions {
		sessions = append(sessions, bs)
	}
	b.mu.Unlock()

	for _, bs := range sessions {
		b.remove(bs)
	}
}

// wsMessenger posts protocol messages to the opener socket, standing in for
// window.postMessage.
type wsMessenger struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (m *wsMessenger) Post(msg popup.Message, targetOrigin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, m.conn, openerFrame{TargetOrigin: targetOrigin, Message: msg})
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, v)
}
