// ABOUTME: Tests for the popup session lifecycle and countdown timing
// ABOUTME: Drives the delayed completion send and countdown with a manual clock

package popup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revibase/passkey-popup/internal/config"
)

func testTiming() config.PopupConfig {
	return config.PopupConfig{
		HeartbeatInterval: 2 * time.Second,
		RedirectDelay:     time.Second,
		CountdownTick:     time.Second,
		CountdownStart:    2,
	}
}

func newTestSession(t *testing.T) (*Session, *recorder, *manualClock) {
	t.Helper()
	rec := newRecorder()
	clock := &manualClock{}
	sess, err := NewSession(testRedirect, rec, testTiming(), clock, testLogger())
	require.NoError(t, err)
	return sess, rec, clock
}

func TestSession_ResponseTriggersDelayedSendAndCountdown(t *testing.T) {
	sess, rec, clock := newTestSession(t)

	sess.Dispatch(AddResponse{Payload: `{"ok":true}`})

	// Nothing is sent before the delay fires.
	assert.Empty(t, rec.all())

	clock.fire(t, 0) // redirect delay
	rec.wait(t)

	posts := rec.all()
	require.Len(t, posts, 1)
	assert.Equal(t, TypeComplete, posts[0].msg.Type)
	assert.Equal(t, testRedirect, posts[0].target)
	assert.Equal(t, 2, sess.State().Countdown)

	clock.tick(t, 0)
	assert.Eventually(t, func() bool { return sess.State().Countdown == 1 }, 2*time.Second, 5*time.Millisecond)
	clock.tick(t, 0)
	assert.Eventually(t, func() bool { return sess.State().Countdown == 0 }, 2*time.Second, 5*time.Millisecond)

	// Countdown reached zero; only the one completion send happened.
	assert.Len(t, rec.all(), 1)
	assert.GreaterOrEqual(t, sess.State().Countdown, 0)
}

func TestSession_RedirectNowResendsCompletion(t *testing.T) {
	sess, rec, clock := newTestSession(t)

	sess.Dispatch(AddResponse{Payload: "result"})
	clock.fire(t, 0)
	rec.wait(t)

	require.NoError(t, sess.RedirectNow())
	rec.wait(t)

	posts := rec.all()
	require.Len(t, posts, 2)
	assert.Equal(t, TypeComplete, posts[1].msg.Type)
}

func TestSession_RedirectNowWithoutResponseIsNoop(t *testing.T) {
	sess, rec, _ := newTestSession(t)
	require.NoError(t, sess.RedirectNow())
	assert.Empty(t, rec.all())
}

func TestSession_InboundInitSeedsState(t *testing.T) {
	sess, _, _ := newTestSession(t)

	init, err := NewInitMessage(InitPayload{
		Data:      &InitData{Type: "message", Payload: "hello"},
		PublicKey: "pk",
	})
	require.NoError(t, err)

	sess.HandleInbound(Inbound{Origin: "https://app.example.com", Trusted: true, Message: init})

	state := sess.State()
	assert.Equal(t, MessageData{Text: "hello"}, state.Data)
	assert.Equal(t, "pk", state.PublicKey)
	assert.False(t, state.Loading)
}

func TestSession_InboundFromForeignOriginIgnored(t *testing.T) {
	sess, _, _ := newTestSession(t)
	before := sess.State()

	init, err := NewInitMessage(InitPayload{PublicKey: "pk"})
	require.NoError(t, err)

	sess.HandleInbound(Inbound{Origin: "https://evil.example.com", Trusted: true, Message: init})
	sess.HandleInbound(Inbound{Origin: "https://app.example.com", Trusted: false, Message: init})

	assert.Equal(t, before, sess.State(), "state must be unchanged")
}

func TestSession_StopSuppressesLateDispatches(t *testing.T) {
	sess, rec, _ := newTestSession(t)
	require.NoError(t, sess.Start())
	rec.wait(t)

	sess.Stop()
	rec.wait(t) // closed notice

	// A late async callback resolving after teardown must not mutate state.
	sess.Dispatch(AddResponse{Payload: "late"})
	assert.Empty(t, sess.State().Response)
}
