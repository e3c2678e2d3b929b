// Package clock provides an injectable time source so that token
// expiration and timing-attack properties can be deterministically
// tested instead of depending on the hidden global clock.
package clock

import "github.com/benbjohnson/clock"

// Clock is the capability surface components depend on instead of
// calling time.Now directly.
type Clock = clock.Clock

// New returns the real, wall-clock backed Clock.
func New() Clock {
	return clock.New()
}

// NewMock returns a Clock that only advances when told to, for tests.
func NewMock() *clock.Mock {
	return clock.NewMock()
}
