package application

import "time"

// Clock supplies "now" to the services so stats and submissions can be tested
// against a frozen instant.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock backed by time.Now in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always reports the same instant.
type FixedClock struct{ At time.Time }

func (c FixedClock) Now() time.Time { return c.At }
