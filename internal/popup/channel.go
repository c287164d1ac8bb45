// ABOUTME: Cross-window messaging channel between the popup and its opener
// ABOUTME: Handles readiness, heartbeat, centralized inbound validation, and teardown

package popup

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"
)

// ErrInvalidRedirectURL indicates the channel cannot activate because the
// redirect URL is absent or unparsable. No listeners are installed and no
// messages are sent in that case.
var ErrInvalidRedirectURL = errors.New("invalid redirect URL")

// Messenger posts one frame toward the opener window, constrained to
// targetOrigin. It is the postMessage analog; the bridge supplies a
// socket-backed implementation.
type Messenger interface {
	Post(msg Message, targetOrigin string) error
}

// Channel is the validated bidirectional link between this popup session and
// its opener.
type Channel struct {
	redirectURL string
	origin      string
	messenger   Messenger
	interval    time.Duration
	clock       Clock
	logger      *slog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	started bool
	stopped bool
}

// NewChannel validates redirectURL and builds an inactive channel.
// Returns ErrInvalidRedirectURL for an absent or malformed URL.
func NewChannel(redirectURL string, messenger Messenger, interval time.Duration, clock Clock, logger *slog.Logger) (*Channel, error) {
	origin, err := originOf(redirectURL)
	if err != nil {
		return nil, err
	}
	return &Channel{
		redirectURL: redirectURL,
		origin:      origin,
		messenger:   messenger,
		interval:    interval,
		clock:       clock,
		logger:      logger,
	}, nil
}

// originOf extracts the origin (scheme://host) of an absolute URL.
func originOf(rawURL string) (string, error) {
	if rawURL == "" {
		return "", ErrInvalidRedirectURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidRedirectURL, rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// Origin returns the opener origin this channel accepts messages from.
func (c *Channel) Origin() string {
	return c.origin
}

// Start announces readiness and begins the heartbeat. Idempotent.
func (c *Channel) Start() error {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	if err := c.messenger.Post(Message{Type: TypeReady}, c.origin); err != nil {
		return fmt.Errorf("announcing readiness: %w", err)
	}

	go c.heartbeatLoop(stop)
	return nil
}

// heartbeatLoop posts a heartbeat every interval until Stop. The opener uses
// it to notice a popup the OS killed without an unload event.
func (c *Channel) heartbeatLoop(stop <-chan struct{}) {
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			if err := c.messenger.Post(Message{Type: TypeHeartbeat}, c.origin); err != nil {
				c.logger.Debug("heartbeat post failed", "error", err)
			}
		}
	}
}

// Accept validates one inbound frame and, for an init message, returns its
// decoded payload. All inbound validation lives here: the frame must be
// browser-generated (trusted) and posted from exactly the redirect origin.
// Everything failing validation is dropped without state change.
func (c *Channel) Accept(in Inbound) (*InitPayload, bool) {
	if !in.Trusted {
		c.logger.Debug("dropping untrusted message", "type", in.Message.Type)
		return nil, false
	}
	if in.Origin != c.origin {
		c.logger.Debug("dropping message from foreign origin", "origin", in.Origin, "want", c.origin)
		return nil, false
	}
	if in.Message.Type != TypeInit {
		return nil, false
	}

	var payload InitPayload
	if err := json.Unmarshal(in.Message.Payload, &payload); err != nil {
		c.logger.Debug("dropping malformed init payload", "error", err)
		return nil, false
	}
	return &payload, true
}

// Complete posts the ceremony result. The target is the redirect URL
// verbatim, not just its origin: the transport performs its own origin check
// against that exact string, and that check is part of the contract.
func (c *Channel) Complete(result string) error {
	msg, err := NewCompleteMessage(result)
	if err != nil {
		return err
	}
	return c.messenger.Post(msg, c.redirectURL)
}

// Stop halts the heartbeat and posts the closed notice. Idempotent; safe
// after a failed Start.
func (c *Channel) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	started := c.started
	if c.stop != nil {
		close(c.stop)
	}
	c.mu.Unlock()

	if started {
		if err := c.messenger.Post(Message{Type: TypeClosed}, c.origin); err != nil {
			c.logger.Debug("closed post failed", "error", err)
		}
	}
}
