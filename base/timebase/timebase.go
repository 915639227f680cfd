package timebase

import (
	"time"
)

// LocalClock is the reference oscillator of the host: it paces the control
// loop and timestamps diagnostics. It is deliberately minimal; the engine
// never steps or slews it.
type LocalClock interface {
	Now() time.Time
	Sleep(duration time.Duration)
}
