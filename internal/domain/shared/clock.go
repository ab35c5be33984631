package shared

import "time"

// Clock supplies the current instant to the domain. Injecting it keeps
// due-date and overdue computations deterministic and testable.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by the wall clock
type SystemClock struct{}

// Now returns the current wall-clock time
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Today truncates the clock's current instant to midnight UTC.
// Due-date comparisons are made at day granularity.
func Today(c Clock) time.Time {
	return c.Now().UTC().Truncate(24 * time.Hour)
}

// FixedClock is a Clock pinned to a single instant, for tests
type FixedClock struct {
	Instant time.Time
}

// Now returns the pinned instant
func (c FixedClock) Now() time.Time {
	return c.Instant
}
