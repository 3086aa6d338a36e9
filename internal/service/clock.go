package service

import "time"

// Clock provides the time stamped on installs, switches and cache use.
// Tests inject a fixed clock for deterministic records.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the actual system time.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// TestClock implements Clock with a fixed time for testing.
type TestClock struct {
	FixedTime time.Time
}

// Now returns the fixed time.
func (t TestClock) Now() time.Time {
	return t.FixedTime
}

// nowFunc adapts a Clock to the func form the engine packages take.
func nowFunc(c Clock) func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}
