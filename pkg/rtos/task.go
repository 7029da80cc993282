package rtos

import (
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"go.uber.org/zap"
)

// DefaultThreadName is used when a task is created without a name.
const DefaultThreadName = "Thread"

// WaitPolicy selects how WaitPeriod re-arms the next wake-up time.
type WaitPolicy int

const (
	// WaitAbsolute keeps a fixed phase: next mark = previous mark + period.
	WaitAbsolute WaitPolicy = iota
	// WaitRelative re-synchronises on the actual wake-up: next mark = now + period.
	WaitRelative
)

// PeriodStatus is the result of WaitPeriod.
type PeriodStatus int

const (
	OnTime PeriodStatus = iota
	// Overrun means the previous period's work ended after the scheduled wake-up.
	Overrun
)

func (s PeriodStatus) String() string {
	if s == Overrun {
		return "overrun"
	}
	return "on-time"
}

// TaskOptions configures Create.
type TaskOptions struct {
	Name      string
	Priority  int
	Scheduler Scheduler

	// CPUAffinity is a bit mask of allowed CPUs; 0 leaves the thread unpinned.
	CPUAffinity uint64

	// StackSize is recorded for diagnostics only: goroutine stacks are sized
	// by the Go runtime.
	StackSize int

	// Clock defaults to SystemClock.
	Clock Clock

	// Logger defaults to the package logger (see SetLogger).
	Logger *zap.Logger
}

// Task is the handle of one real-time thread.
//
// The scheduling setters are not synchronised with each other; callers that
// change the same task from several goroutines must serialise those calls.
type Task struct {
	name        string
	pid         int
	tid         int
	priority    int
	scheduler   Scheduler
	cpuAffinity uint64
	stackSize   int

	waitPolicy WaitPolicy
	period     time.Duration
	periodMark time.Duration
	clock      Clock

	logger *zap.Logger

	ready   chan error
	done    chan struct{}
	running atomic.Bool
	deleted atomic.Bool
	main    bool
}

// Create spawns a new real-time thread running entry. Create returns once the
// thread has registered itself and applied its scheduling parameters.
//
// Out-of-range priorities and unknown schedulers are corrected with a
// warning. A failure to apply scheduling parameters is returned as a
// resource error and no task is handed out.
func Create(opts TaskOptions, entry func(*Task)) (*Task, error) {
	if entry == nil {
		return nil, sdkerrors.NewResourceError("task entry cannot be nil", nil)
	}

	name := opts.Name
	if name == "" {
		name = DefaultThreadName
	}

	t := &Task{
		name:        name,
		pid:         os.Getpid(),
		cpuAffinity: opts.CPUAffinity,
		stackSize:   opts.StackSize,
		waitPolicy:  WaitAbsolute,
		clock:       opts.Clock,
		logger:      opts.Logger,
		ready:       make(chan error, 1),
		done:        make(chan struct{}),
	}
	if t.clock == nil {
		t.clock = SystemClock()
	}
	if t.logger == nil {
		t.logger = defaultLogger()
	}
	t.scheduler, t.priority = t.checkPriority(opts.Scheduler, opts.Priority)

	go t.run(entry)

	if err := <-t.ready; err != nil {
		<-t.done
		t.logger.Error("Failed to create thread",
			zap.String("thread", name),
			zap.Error(err))
		return nil, sdkerrors.NewResourceError(fmt.Sprintf("failed to create thread %q", name), err)
	}

	return t, nil
}

// run is the body of the spawned goroutine. The OS thread is never unlocked,
// so it is discarded when the goroutine returns instead of going back to the
// Go scheduler with modified scheduling parameters.
func (t *Task) run(entry func(*Task)) {
	defer close(t.done)
	runtime.LockOSThread()

	t.tid = gettid()

	if err := t.applyScheduling(); err != nil {
		t.ready <- err
		return
	}

	if t.cpuAffinity != 0 {
		if err := setAffinity(t.tid, t.cpuAffinity); err != nil {
			t.logger.Warn("Could not pin thread to CPUs",
				zap.String("thread", t.name),
				zap.Uint64("cpu_affinity", t.cpuAffinity),
				zap.Error(err))
		}
	}

	if t.stackSize != 0 {
		t.logger.Debug("Ignoring stack size, goroutine stacks grow on demand",
			zap.String("thread", t.name),
			zap.Int("stack_size", t.stackSize))
	}

	t.running.Store(true)
	defer t.running.Store(false)
	t.ready <- nil

	entry(t)
}

// applyScheduling runs on the task's own thread. A real-time policy refused
// for lack of privilege degrades to SchedOther.
func (t *Task) applyScheduling() error {
	err := setScheduling(t.tid, t.scheduler, t.priority)
	if err == nil {
		return nil
	}
	if isPermissionError(err) {
		t.logger.Warn("Insufficient privileges for scheduling parameters, falling back to SCHED_OTHER",
			zap.String("thread", t.name),
			zap.Stringer("scheduler", t.scheduler),
			zap.Int("priority", t.priority))
		t.scheduler, t.priority = SchedOther, 0
		if err := setScheduling(t.tid, t.scheduler, t.priority); err != nil && !isPermissionError(err) {
			return err
		}
		return nil
	}
	if sdkerrors.IsUnsupported(err) {
		t.logger.Warn("Scheduling parameters not supported, using platform defaults",
			zap.String("thread", t.name),
			zap.Stringer("scheduler", t.scheduler))
		t.scheduler, t.priority = SchedOther, 0
		return nil
	}
	return err
}

// checkPriority applies CheckScheduler/CheckPriority and logs each correction.
func (t *Task) checkPriority(s Scheduler, priority int) (Scheduler, int) {
	checked, ok := CheckScheduler(s)
	if !ok {
		t.logger.Warn("Unknown scheduler type",
			zap.String("thread", t.name),
			zap.Int("scheduler", int(s)))
	}
	_, clamped, ok := CheckPriority(checked, priority)
	if !ok && clamped != priority {
		t.logger.Warn("Forcing priority of thread",
			zap.String("thread", t.name),
			zap.Int("requested", priority),
			zap.Int("priority", clamped),
			zap.Stringer("scheduler", checked))
	}
	return checked, clamped
}

// Delete waits until the thread has exited and releases the handle. It must
// not be called from the task's own thread.
func (t *Task) Delete() error {
	if t.main {
		return sdkerrors.NewResourceError("the main task is released with DeleteMainTask", nil)
	}
	if t.IsSelf() {
		return sdkerrors.NewResourceError(fmt.Sprintf("thread %q cannot join itself", t.name), nil)
	}
	if t.deleted.Swap(true) {
		return sdkerrors.ErrTaskDeleted
	}
	<-t.done
	t.logger.Debug("Thread deleted", zap.String("thread", t.name))
	return nil
}

// Done is closed when the task's entry function has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Running reports whether the entry function is executing.
func (t *Task) Running() bool {
	return t.running.Load()
}

// Name returns the thread name.
func (t *Task) Name() string { return t.name }

// PID returns the id of the owning process.
func (t *Task) PID() int { return t.pid }

// TID returns the native thread id, or 0 where the platform has none.
func (t *Task) TID() int { return t.tid }

// StackSize returns the requested stack size.
func (t *Task) StackSize() int { return t.stackSize }

// IsSelf reports whether the caller runs on this task's thread.
func (t *Task) IsSelf() bool {
	if t.tid == 0 || !t.running.Load() {
		return false
	}
	return gettid() == t.tid
}

// Yield gives up the processor to threads of the same priority.
func (t *Task) Yield() {
	yield()
}

// SetScheduler changes the scheduling policy. The stored priority is
// re-validated against the new policy's range.
func (t *Task) SetScheduler(s Scheduler) error {
	return t.SetScheduling(s, t.priority)
}

// Scheduler returns the live policy when the thread is running, otherwise
// the stored one.
func (t *Task) Scheduler() Scheduler {
	if t.running.Load() {
		if s, _, err := getScheduling(t.tid); err == nil {
			return s
		}
	}
	return t.scheduler
}

// SetPriority changes the priority, clamping it into the current policy's
// range.
func (t *Task) SetPriority(priority int) error {
	return t.SetScheduling(t.scheduler, priority)
}

// SetScheduling changes policy and priority in one call, clamping like
// Create. Nothing is stored when the kernel rejects the change.
func (t *Task) SetScheduling(s Scheduler, priority int) error {
	s, priority = t.checkPriority(s, priority)
	if t.running.Load() {
		if err := setScheduling(t.tid, s, priority); err != nil {
			t.logger.Warn("Failed to change scheduling parameters",
				zap.String("thread", t.name),
				zap.Stringer("scheduler", s),
				zap.Int("priority", priority),
				zap.Error(err))
			return err
		}
	}
	t.scheduler = s
	t.priority = priority
	return nil
}

// Priority returns the kernel-reported priority while the thread runs,
// otherwise the stored value.
func (t *Task) Priority() int {
	if t.running.Load() {
		if _, p, err := getScheduling(t.tid); err == nil {
			return p
		}
	}
	return t.priority
}

// SetCPUAffinity pins the thread to the CPUs in mask. ErrUnsupported is
// returned where the kernel offers no affinity control.
func (t *Task) SetCPUAffinity(mask uint64) error {
	if t.running.Load() {
		if err := setAffinity(t.tid, mask); err != nil {
			return err
		}
	}
	t.cpuAffinity = mask
	return nil
}

// CPUAffinity returns the CPU mask of the thread, or all bits set when the
// platform cannot report it.
func (t *Task) CPUAffinity() uint64 {
	if t.running.Load() {
		if mask, err := getAffinity(t.tid); err == nil {
			return mask
		}
		return ^uint64(0)
	}
	return t.cpuAffinity
}

// MakePeriodic sets the period and arms the first wake-up at now + period.
// A zero period makes WaitPeriod return immediately.
func (t *Task) MakePeriodic(period time.Duration) {
	t.period = period
	t.periodMark = t.clock.Now() + period
}

// SetPeriod is MakePeriodic.
func (t *Task) SetPeriod(period time.Duration) {
	t.MakePeriodic(period)
}

// Period returns the current period.
func (t *Task) Period() time.Duration { return t.period }

// PeriodMark returns the next scheduled wake-up on the task clock.
func (t *Task) PeriodMark() time.Duration { return t.periodMark }

// SetWaitPolicy selects absolute or relative re-arming.
func (t *Task) SetWaitPolicy(p WaitPolicy) { t.waitPolicy = p }

// WaitPolicy returns the re-arming policy.
func (t *Task) WaitPolicy() WaitPolicy { return t.waitPolicy }

// WaitPeriod sleeps until the next scheduled wake-up and re-arms the
// following one. It reports Overrun when the call itself came after the
// scheduled wake-up. Only the task's own loop may call it.
func (t *Task) WaitPeriod() PeriodStatus {
	if t.period == 0 {
		return OnTime
	}

	now := t.clock.Now()
	wake := t.periodMark

	t.clock.SleepUntil(wake)

	if t.waitPolicy == WaitAbsolute {
		t.periodMark += t.period
	} else {
		t.periodMark = t.clock.Now() + t.period
	}

	if now > wake {
		return Overrun
	}
	return OnTime
}
