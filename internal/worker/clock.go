package worker

import "time"

// Timer is a cancellable scheduled call.
type Timer interface {
	// Stop cancels the timer. It reports whether the call was prevented
	// from firing.
	Stop() bool
}

// Clock schedules deferred calls. Tests inject a fake so pause/resume
// behavior can be exercised without wall-clock waits.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock schedules with the real wall clock.
var SystemClock Clock = systemClock{}
