//go:build linux

package rtos

import (
	"errors"

	"golang.org/x/sys/unix"
)

func gettid() int {
	return unix.Gettid()
}

func yield() {
	unix.Syscall(unix.SYS_SCHED_YIELD, 0, 0, 0)
}

func setScheduling(tid int, s Scheduler, priority int) error {
	attr := &unix.SchedAttr{
		Policy:   uint32(s),
		Priority: uint32(priority),
	}
	return unix.SchedSetAttr(tid, attr, 0)
}

func getScheduling(tid int) (Scheduler, int, error) {
	attr, err := unix.SchedGetAttr(tid, 0)
	if err != nil {
		return SchedOther, 0, err
	}
	return Scheduler(attr.Policy), int(attr.Priority), nil
}

func isPermissionError(err error) bool {
	return errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES)
}

func setAffinity(tid int, mask uint64) error {
	var set unix.CPUSet
	set.Zero()
	for cpu := 0; cpu < 64; cpu++ {
		if mask&(1<<uint(cpu)) != 0 {
			set.Set(cpu)
		}
	}
	return unix.SchedSetaffinity(tid, &set)
}

func getAffinity(tid int) (uint64, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(tid, &set); err != nil {
		return 0, err
	}
	var mask uint64
	for cpu := 0; cpu < 64; cpu++ {
		if set.IsSet(cpu) {
			mask |= 1 << uint(cpu)
		}
	}
	return mask, nil
}
