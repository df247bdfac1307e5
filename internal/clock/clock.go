// Package clock abstracts time for the dispatcher's retry backoff so
// tests can drive delays deterministically. Production code injects
// Real(); tests inject a Fake and call Advance.
package clock

import "time"

// Clock is the subset of the time package the dispatcher needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives after duration d elapses.
	// If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time {
	if d <= 0 {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	return time.After(d)
}
