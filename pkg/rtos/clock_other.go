//go:build !linux

package rtos

import "time"

var clockEpoch = time.Now()

type systemClock struct{}

func (systemClock) Now() time.Duration {
	return time.Since(clockEpoch)
}

func (c systemClock) SleepUntil(deadline time.Duration) {
	if d := deadline - c.Now(); d > 0 {
		time.Sleep(d)
	}
}
