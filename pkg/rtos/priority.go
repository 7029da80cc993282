package rtos

import "fmt"

// Scheduler is an OS scheduling policy. The values match the Linux
// SCHED_* constants.
type Scheduler int

const (
	SchedOther Scheduler = 0
	SchedFIFO  Scheduler = 1
	SchedRR    Scheduler = 2
)

// Priority bounds for the real-time schedulers. SchedOther threads always
// run at priority 0.
const (
	LowestPriority  = 1
	HighestPriority = 99
)

func (s Scheduler) String() string {
	switch s {
	case SchedOther:
		return "SCHED_OTHER"
	case SchedFIFO:
		return "SCHED_FIFO"
	case SchedRR:
		return "SCHED_RR"
	}
	return fmt.Sprintf("Scheduler(%d)", int(s))
}

// IsRealtime reports whether s is one of the fixed-priority policies.
func (s Scheduler) IsRealtime() bool {
	return s == SchedFIFO || s == SchedRR
}

// PriorityRange returns the valid priority bounds for s.
func PriorityRange(s Scheduler) (lowest, highest int) {
	if s.IsRealtime() {
		return LowestPriority, HighestPriority
	}
	return 0, 0
}

// CheckScheduler validates s. Unknown policies are replaced by SchedOther
// and ok is false.
func CheckScheduler(s Scheduler) (checked Scheduler, ok bool) {
	switch s {
	case SchedOther, SchedFIFO, SchedRR:
		return s, true
	}
	return SchedOther, false
}

// CheckPriority validates the scheduler and clamps priority into the range
// of the (validated) scheduler. ok is false when anything was corrected.
func CheckPriority(s Scheduler, priority int) (Scheduler, int, bool) {
	s, ok := CheckScheduler(s)
	lowest, highest := PriorityRange(s)
	if priority < lowest {
		return s, lowest, false
	}
	if priority > highest {
		return s, highest, false
	}
	return s, priority, ok
}
