//go:build !linux

package rtos

import (
	"runtime"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

func gettid() int { return 0 }

func yield() { runtime.Gosched() }

func setScheduling(tid int, s Scheduler, priority int) error {
	if s == SchedOther {
		return nil
	}
	return sdkerrors.ErrUnsupported
}

func getScheduling(tid int) (Scheduler, int, error) {
	return SchedOther, 0, sdkerrors.ErrUnsupported
}

func isPermissionError(err error) bool { return false }

func setAffinity(tid int, mask uint64) error {
	return sdkerrors.ErrUnsupported
}

func getAffinity(tid int) (uint64, error) {
	return 0, sdkerrors.ErrUnsupported
}
