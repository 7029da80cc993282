//go:build linux

package rtos

import (
	"time"

	"golang.org/x/sys/unix"
)

// systemClock sleeps with clock_nanosleep(CLOCK_MONOTONIC, TIMER_ABSTIME) so
// a late wake-up never shifts the next deadline.
type systemClock struct{}

func (systemClock) Now() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return time.Duration(time.Now().UnixNano())
	}
	return time.Duration(ts.Nano())
}

func (systemClock) SleepUntil(deadline time.Duration) {
	ts := unix.NsecToTimespec(int64(deadline))
	for {
		err := unix.ClockNanosleep(unix.CLOCK_MONOTONIC, unix.TIMER_ABSTIME, &ts, nil)
		if err != unix.EINTR {
			return
		}
	}
}
