package rtos

import "time"

// Clock is the time source a Task measures periods against. Now returns the
// time elapsed since an arbitrary, fixed epoch on a monotonic timeline.
type Clock interface {
	Now() time.Duration
	SleepUntil(deadline time.Duration)
}

// SystemClock returns the platform monotonic clock.
func SystemClock() Clock {
	return systemClock{}
}
