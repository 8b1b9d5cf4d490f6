// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/journal-crawler/internal/journal"
)

var _ journal.Clock = Clock{}

// Clock reads time.Now in UTC so persisted timestamps never carry a zone.
type Clock struct{}

// New returns a Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time truncated to microseconds, the precision
// Postgres keeps for timestamptz.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
