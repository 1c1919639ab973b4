package clock

import "time"

// SystemClock reads the wall clock in UTC; it backs the client registry in the daemon.
type SystemClock struct{}

func NewSystemClock() SystemClock { return SystemClock{} }

func (SystemClock) Now() time.Time { return time.Now().UTC() }
