// Package system provides the wall clock used to stamp runs and reports.
package system

import (
	"time"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
)

// Clock implements market.Clock. Times are always UTC so summary and
// report timestamps compare across hosts.
type Clock struct{}

var _ market.Clock = Clock{}

// New creates a new Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
