package clock

import "time"

// Clock stamps client connections. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}
