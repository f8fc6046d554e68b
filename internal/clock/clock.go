// Package clock defines the time source injected into stateful components.
package clock

import "time"

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Wall reads the process clock in UTC.
var Wall Clock = wall{}

type wall struct{}

func (wall) Now() time.Time { return time.Now().UTC() }

// Until returns how long c has to wait for t. Past instants give zero.
func Until(c Clock, t time.Time) time.Duration {
	return max(t.Sub(c.Now()), 0)
}
