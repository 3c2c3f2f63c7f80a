// Package system provides the wall-clock implementation of crawl.Clock.
package system

import "time"

// Clock reads the system time.
type Clock struct{}

// New constructs a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	return time.Now()
}
