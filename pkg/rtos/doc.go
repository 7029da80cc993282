// Package rtos is the operating-system abstraction for real-time threads.
//
// A Task wraps one goroutine that is locked to its own OS thread for its
// whole lifetime. The thread's scheduling policy, priority and CPU affinity
// are applied from inside the thread before Create returns, so a caller can
// never observe a half-registered task.
//
// # Priorities
//
// Priority ranges depend on the scheduler:
//
//	SchedOther          0
//	SchedFIFO, SchedRR  LowestPriority (1) .. HighestPriority (99)
//
// Out-of-range requests are clamped to the nearest bound and logged as a
// warning; the call still succeeds. Unknown schedulers fall back to
// SchedOther. When the process lacks the privilege to use a real-time
// policy the thread keeps running under SchedOther and a warning is logged.
//
// # Periodic execution
//
//	task, err := rtos.Create(rtos.TaskOptions{Name: "ctrl", Scheduler: rtos.SchedFIFO, Priority: 80},
//		func(t *rtos.Task) {
//			t.MakePeriodic(time.Millisecond)
//			for running.Load() {
//				step()
//				if t.WaitPeriod() == rtos.Overrun {
//					overruns++
//				}
//			}
//		})
//
// WaitPeriod re-arms the next wake-up either on a fixed phase
// (WaitAbsolute, the default: mark += period) or relative to the actual
// wake-up (WaitRelative: mark = now + period).
package rtos
