package mmcspi

import "time"

// Clock supplies the current time for deadline arithmetic. It stands
// in for the externally-supplied 1ms tick source spec.md's Timer1 and
// Timer2 countdown timers are driven by: a deadline is
// clock.Now().Add(timeout), and it has expired once
// !clock.Now().Before(deadline).
//
// Tests inject a manually-advanced Clock instead of driving a
// simulated tick counter; production callers use systemClock (the
// realTime type below), or any type with a compatible Now method.
type Clock interface {
	Now() time.Time
}

// realTime is the default Clock, backed by the system clock.
type realTime struct{}

func (realTime) Now() time.Time { return time.Now() }

var systemClock Clock = realTime{}

// SystemClock returns the default, system-time-backed Clock. Concrete
// Bus implementations outside this package (for example spi.Device)
// use it to satisfy the Clock method.
func SystemClock() Clock {
	return systemClock
}

// expired reports whether the clock has reached or passed t.
func expired(clock Clock, t time.Time) bool {
	return !clock.Now().Before(t)
}
