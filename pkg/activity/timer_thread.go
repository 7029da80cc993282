// Package activity runs user code on real-time threads: periodic activities
// multiplexed onto one TimerThread, and event-driven activities stepped on
// demand.
package activity

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/rtos"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State is the lifecycle state of a TimerThread.
type State int32

const (
	Uninitialized State = iota
	Running
	Stopped
	Released
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Released:
		return "released"
	}
	return "unknown"
}

// TimerThread is one OS thread stepping all registered periodic activities
// once per period.
type TimerThread struct {
	name     string
	priority int
	period   time.Duration

	task    *rtos.Task
	logger  *zap.Logger
	stepper stepper
	tracer  trace.Tracer

	// stepMu is held for the duration of one cycle.
	stepMu     sync.Mutex
	activities []*PeriodicActivity

	ctrlMu  sync.Mutex
	state   atomic.Int32
	stopReq atomic.Bool
	startCh chan struct{}
	stopped chan struct{}
	quit    chan struct{}

	cycles   atomic.Uint64
	overruns atomic.Uint64
}

// NewTimerThread creates the underlying real-time thread parked. Call Start
// to begin the periodic loop.
func NewTimerThread(priority int, name string, period time.Duration, opts ...Option) (*TimerThread, error) {
	o := buildOptions(opts)

	tt := &TimerThread{
		name:     name,
		priority: priority,
		period:   period,
		logger:   o.logger,
		tracer:   otel.Tracer("daedalus/activity"),
		startCh:  make(chan struct{}),
		stopped:  make(chan struct{}),
		quit:     make(chan struct{}),
	}
	tt.stepper = stepper{thread: name, logger: o.logger, metrics: o.metrics, hub: o.hub}

	createPriority := priority
	if !o.scheduler.IsRealtime() {
		createPriority = 0
	}

	task, err := rtos.Create(rtos.TaskOptions{
		Name:        name,
		Priority:    createPriority,
		Scheduler:   o.scheduler,
		CPUAffinity: o.cpuAffinity,
		Clock:       o.clock,
		Logger:      o.logger,
	}, tt.loop)
	if err != nil {
		return nil, err
	}
	tt.task = task
	tt.stepper.thread = task.Name()
	tt.name = task.Name()

	return tt, nil
}

// MakeHardRealtime switches the thread to SchedFIFO at the configured
// priority. It returns false when the kernel refuses.
func (tt *TimerThread) MakeHardRealtime() bool {
	if err := tt.task.SetScheduling(rtos.SchedFIFO, tt.priority); err != nil {
		tt.logger.Warn("Could not make thread hard real-time",
			zap.String("thread", tt.name),
			zap.Int("priority", tt.priority),
			zap.Error(err))
		return false
	}
	return true
}

// Start runs the periodic loop. It returns false when the thread is already
// running or has been released.
func (tt *TimerThread) Start() bool {
	tt.ctrlMu.Lock()
	defer tt.ctrlMu.Unlock()

	switch tt.State() {
	case Running, Released:
		return false
	}

	_, span := tt.tracer.Start(context.Background(), "activity.TimerThread.Start",
		trace.WithAttributes(
			attribute.String("thread.name", tt.name),
			attribute.Int64("thread.period_ns", tt.period.Nanoseconds())))
	defer span.End()

	tt.stopReq.Store(false)
	tt.state.Store(int32(Running))
	tt.startCh <- struct{}{}
	return true
}

// Stop parks the loop after the current cycle completes. It returns false
// when the thread was not running or when called from the thread itself.
func (tt *TimerThread) Stop() bool {
	tt.ctrlMu.Lock()
	defer tt.ctrlMu.Unlock()
	return tt.stopLocked()
}

func (tt *TimerThread) stopLocked() bool {
	if tt.State() != Running {
		return false
	}
	if tt.task.IsSelf() {
		tt.logger.Warn("TimerThread cannot stop itself", zap.String("thread", tt.name))
		return false
	}

	_, span := tt.tracer.Start(context.Background(), "activity.TimerThread.Stop",
		trace.WithAttributes(attribute.String("thread.name", tt.name)))
	defer span.End()

	tt.stopReq.Store(true)
	<-tt.stopped
	tt.state.Store(int32(Stopped))
	span.SetAttributes(
		attribute.Int64("thread.cycles", int64(tt.cycles.Load())),
		attribute.Int64("thread.overruns", int64(tt.overruns.Load())))
	return true
}

// Release stops the loop if needed and destroys the thread. Later Start
// calls return false.
func (tt *TimerThread) Release() {
	tt.ctrlMu.Lock()
	defer tt.ctrlMu.Unlock()

	if tt.State() == Released {
		return
	}
	tt.stopLocked()
	close(tt.quit)
	if err := tt.task.Delete(); err != nil {
		tt.logger.Warn("Failed to delete timer thread", zap.String("thread", tt.name), zap.Error(err))
	}
	tt.state.Store(int32(Released))
	tt.logger.Debug("Timer thread released", zap.String("thread", tt.name))
}

func (tt *TimerThread) loop(task *rtos.Task) {
	for {
		select {
		case <-tt.quit:
			return
		case <-tt.startCh:
		}

		task.MakePeriodic(tt.period)
		for !tt.stopReq.Load() {
			tt.cycle()
			if tt.stopReq.Load() {
				break
			}
			if task.WaitPeriod() == rtos.Overrun {
				n := tt.overruns.Add(1)
				tt.stepper.metrics.Overrun(tt.name)
				tt.logger.Debug("Period overrun",
					zap.String("thread", tt.name),
					zap.Duration("period", tt.period),
					zap.Uint64("overruns", n))
			}
		}
		tt.stopped <- struct{}{}
	}
}

func (tt *TimerThread) cycle() {
	tt.stepMu.Lock()
	defer tt.stepMu.Unlock()

	rs := make([]Runnable, len(tt.activities))
	for i, a := range tt.activities {
		rs[i] = a.runner
	}
	tt.stepper.stepAll(rs)
	tt.cycles.Add(1)
}

// AddActivity registers a periodic activity. It returns false for a
// duplicate or a released thread.
func (tt *TimerThread) AddActivity(a *PeriodicActivity) bool {
	if tt.State() == Released {
		return false
	}
	unlock := tt.lockSteps()
	defer unlock()

	if slices.Contains(tt.activities, a) {
		return false
	}
	tt.activities = append(tt.activities, a)
	return true
}

// RemoveActivity unregisters a. When it returns, a is not being stepped.
func (tt *TimerThread) RemoveActivity(a *PeriodicActivity) bool {
	unlock := tt.lockSteps()
	defer unlock()

	i := slices.Index(tt.activities, a)
	if i < 0 {
		return false
	}
	tt.activities = slices.Delete(tt.activities, i, i+1)
	return true
}

// lockSteps takes stepMu unless the caller is a Step running on this thread,
// which already holds it.
func (tt *TimerThread) lockSteps() func() {
	if tt.task.IsSelf() {
		return func() {}
	}
	tt.stepMu.Lock()
	return tt.stepMu.Unlock
}

func (tt *TimerThread) Name() string { return tt.name }
func (tt *TimerThread) Period() time.Duration { return tt.period }
func (tt *TimerThread) State() State { return State(tt.state.Load()) }
func (tt *TimerThread) IsRunning() bool { return tt.State() == Running }
func (tt *TimerThread) Task() *rtos.Task { return tt.task }
func (tt *TimerThread) Cycles() uint64 { return tt.cycles.Load() }
func (tt *TimerThread) Overruns() uint64 { return tt.overruns.Load() }
func (tt *TimerThread) Scheduler() rtos.Scheduler { return tt.task.Scheduler() }

// Priority returns the effective priority of the thread.
func (tt *TimerThread) Priority() int {
	return tt.task.Priority()
}
