// ABOUTME: Owns the post-ceremony redirect timers: delay, completion send, countdown
// ABOUTME: Single timer owner shared by the authentication and registration flows

package popup

import (
	"log/slog"
	"sync"
	"time"
)

// CountdownSender waits a delay after a ceremony result appears, sends the
// completion message once, then ticks the countdown. Delays are injected so
// tests can drive them.
type CountdownSender struct {
	channel *Channel
	clock   Clock
	delay   time.Duration
	tick    time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	cancel chan struct{}
}

// NewCountdownSender creates a sender over the given channel.
func NewCountdownSender(channel *Channel, clock Clock, delay, tick time.Duration, logger *slog.Logger) *CountdownSender {
	return &CountdownSender{
		channel: channel,
		clock:   clock,
		delay:   delay,
		tick:    tick,
		logger:  logger,
	}
}

// Begin schedules the delayed completion send and countdown for response.
// onTick is invoked once per tick and returns the remaining count; ticking
// stops when it reaches zero. Any previous schedule is cancelled first.
func (s *CountdownSender) Begin(response string, onTick func() int) {
	s.Cancel()

	s.mu.Lock()
	cancel := make(chan struct{})
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(response, onTick, cancel)
}

func (s *CountdownSender) run(response string, onTick func() int, cancel <-chan struct{}) {
	delay := s.clock.NewTimer(s.delay)
	defer delay.Stop()

	select {
	case <-cancel:
		return
	case <-delay.C():
	}

	if err := s.channel.Complete(response); err != nil {
		s.logger.Warn("completion post failed", "error", err)
	}

	ticker := s.clock.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-cancel:
			return
		case <-ticker.C():
			if onTick() <= 0 {
				return
			}
		}
	}
}

// RedirectNow re-sends the completion message immediately. Backs the manual
// redirect affordance offered once the countdown hits zero.
func (s *CountdownSender) RedirectNow(response string) error {
	if response == "" {
		return nil
	}
	return s.channel.Complete(response)
}

// Cancel stops any pending delay or countdown. Idempotent.
func (s *CountdownSender) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		close(s.cancel)
		s.cancel = nil
	}
}
