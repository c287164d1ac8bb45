// ABOUTME: One popup session: reducer-owned state plus channel and timers
// ABOUTME: Explicit Start/Stop lifecycle; no state writes after teardown

package popup

import (
	"log/slog"
	"sync"

	"github.com/revibase/passkey-popup/internal/config"
)

// Session owns the state of one popup window and the channel to its opener.
// All mutation flows through Dispatch; after Stop, dispatches are dropped so
// async work resolving late cannot write to a dead session.
type Session struct {
	channel   *Channel
	countdown *CountdownSender
	redirect  string
	logger    *slog.Logger

	mu      sync.Mutex
	state   State
	stopped bool
}

// NewSession builds a session for the given redirect URL.
// Fails with ErrInvalidRedirectURL before any listener or timer exists.
func NewSession(redirectURL string, messenger Messenger, timing config.PopupConfig, clock Clock, logger *slog.Logger) (*Session, error) {
	channel, err := NewChannel(redirectURL, messenger, timing.HeartbeatInterval, clock, logger)
	if err != nil {
		return nil, err
	}
	return &Session{
		channel:   channel,
		countdown: NewCountdownSender(channel, clock, timing.RedirectDelay, timing.CountdownTick, logger),
		redirect:  redirectURL,
		logger:    logger,
		state:     InitialState(timing.CountdownStart),
	}, nil
}

// Start activates the channel: readiness announcement plus heartbeat.
func (s *Session) Start() error {
	return s.channel.Start()
}

// State returns a snapshot of the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch applies one action. Recording a response schedules the delayed
// completion send and countdown; re-initialization cancels them.
func (s *Session) Dispatch(a Action) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.state = Apply(s.state, a)
	response := s.state.Response
	s.mu.Unlock()

	switch a.(type) {
	case AddResponse:
		s.countdown.Begin(response, s.tickCountdown)
	case Initialize:
		s.countdown.Cancel()
	}
}

// tickCountdown decrements the countdown and reports the remaining count.
func (s *Session) tickCountdown() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return 0
	}
	s.state = Apply(s.state, DecrementCountdown{})
	return s.state.Countdown
}

// HandleInbound validates one inbound frame through the channel and, for an
// accepted init message, seeds the session.
func (s *Session) HandleInbound(in Inbound) {
	payload, ok := s.channel.Accept(in)
	if !ok {
		return
	}
	s.Dispatch(SetLoading{Loading: true})
	s.Dispatch(Initialize{RedirectURL: s.redirect, Payload: *payload})
	s.logger.Info("session initialized",
		"has_data", payload.Data != nil,
		"is_register", payload.IsRegister,
	)
}

// RedirectNow re-sends the completion message for the recorded response.
func (s *Session) RedirectNow() error {
	s.mu.Lock()
	response := s.state.Response
	s.mu.Unlock()
	return s.countdown.RedirectNow(response)
}

// Stop tears the session down: timers cancelled, closed notice posted,
// further dispatches dropped.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.countdown.Cancel()
	s.channel.Stop()
}
