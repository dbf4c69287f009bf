// Package system provides the wall clock used for ledger timestamps.
package system

import "time"

// Clock implements crawler.Clock. Times are UTC with millisecond precision,
// matching what the ledger persists, so a record compares equal after a
// save and reload.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time truncated to milliseconds.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
