// Package system provides the wall clock stamped on incidents and detail
// snapshots.
package system

import "time"

// Clock reads the wall clock in UTC, truncated to milliseconds so stamps
// round-trip through RFC 3339 and JSON unchanged.
type Clock struct{}

// New creates a Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
