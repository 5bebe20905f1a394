// Package clock abstracts time so timer-driven code can be tested
// deterministically. Production code uses Real(); tests use Fake().
package clock

import "time"

// Clock is the subset of the time package used by the schedulers.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f once after d elapses. The returned Timer can
	// cancel the pending call.
	AfterFunc(d time.Duration, f func()) Timer

	// NewTicker delivers ticks every d on the ticker's channel.
	// Panics if d <= 0.
	NewTicker(d time.Duration) Ticker
}

// Timer is a cancellable one-shot callback.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the
	// call stopped the timer (false if it already fired or was stopped).
	Stop() bool
}

// Ticker delivers periodic ticks. C has capacity 1; slow consumers drop ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

func (realClock) NewTicker(d time.Duration) Ticker { return realTicker{t: time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }
