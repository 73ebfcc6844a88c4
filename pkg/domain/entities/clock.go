package entities

import "time"

// Clock is the wall-clock time source
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now in UTC
type SystemClock struct{}

// Now returns the current UTC time
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
