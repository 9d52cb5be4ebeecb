// Package clock provides an injectable time source so timer-driven code
// (heartbeats, reconnect backoff) can be tested deterministically.
//
// Production code uses Real(). Tests use Fake(), which only moves when
// Advance is called.
package clock

import "time"

// Clock abstracts the parts of the time package used by this module.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f after d elapses. If d <= 0 the real clock runs f
	// on a new goroutine and the fake clock runs it before returning.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a ticker delivering ticks every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop cancels the call. It reports whether the call was still pending.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Ticker delivers periodic ticks on C. C has capacity 1; slow consumers
// miss ticks rather than queueing them.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stopFunc() }
