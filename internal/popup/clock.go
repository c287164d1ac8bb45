// ABOUTME: Injectable clock abstraction for popup timers
// ABOUTME: Lets tests drive heartbeat and countdown without real time

package popup

import "time"

// Ticker delivers periodic ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Timer delivers a single tick after a delay.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Clock abstracts time for the channel and countdown timers.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	NewTimer(d time.Duration) Timer
}

type realClock struct{}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }

func (realClock) Now() time.Time                   { return time.Now() }
func (realClock) NewTicker(d time.Duration) Ticker { return realTicker{t: time.NewTicker(d)} }
func (realClock) NewTimer(d time.Duration) Timer   { return realTimer{t: time.NewTimer(d)} }

// RealClock returns the wall-clock implementation.
func RealClock() Clock {
	return realClock{}
}
