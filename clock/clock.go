// Package clock abstracts time for deterministic testing.
package clock

import "time"

type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	// After returns a channel that fires after the given duration.
	After(d time.Duration) <-chan time.Time
}

// SystemClock provides an instance of Clock that simply utilizes the system clock.
var SystemClock Clock = systemClock{}

type systemClock struct{}

func (c systemClock) Now() time.Time {
	return time.Now()
}

func (c systemClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

func (c systemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
