package activity

import (
	"sync"

	"github.com/wehubfusion/Daedalus/pkg/rtos"
	"go.uber.org/zap"
)

// EventActivity steps a Runnable on its own thread each time it is
// triggered. Triggers arriving while a step is pending are coalesced into
// that step.
//
// Wire Trigger to an input port's new-data event to run a component on data
// arrival.
type EventActivity struct {
	name     string
	priority int
	runner   Runnable
	opts     options
	stepper  stepper

	mu      sync.Mutex
	task    *rtos.Task
	trigger chan struct{}
	quit    chan struct{}
}

func NewEventActivity(priority int, name string, r Runnable, opts ...Option) *EventActivity {
	o := buildOptions(opts)
	return &EventActivity{
		name:     name,
		priority: priority,
		runner:   r,
		opts:     o,
		stepper:  stepper{thread: name, logger: o.logger, metrics: o.metrics, hub: o.hub},
	}
}

// Start initializes the runnable and spawns the thread.
func (e *EventActivity) Start() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.task != nil {
		return false
	}
	if !e.runner.Initialize() {
		return false
	}

	trigger := make(chan struct{}, 1)
	quit := make(chan struct{})

	task, err := rtos.Create(rtos.TaskOptions{
		Name:        e.name,
		Priority:    e.priority,
		Scheduler:   e.opts.scheduler,
		CPUAffinity: e.opts.cpuAffinity,
		Clock:       e.opts.clock,
		Logger:      e.opts.logger,
	}, func(*rtos.Task) {
		for {
			select {
			case <-quit:
				return
			case <-trigger:
				e.stepper.step(e.runner)
			}
		}
	})
	if err != nil {
		e.opts.logger.Error("Failed to start event activity", zap.String("thread", e.name), zap.Error(err))
		e.runner.Finalize()
		return false
	}

	e.task, e.trigger, e.quit = task, trigger, quit
	return true
}

// Trigger requests one step. It never blocks and returns false when the
// activity is not running.
func (e *EventActivity) Trigger() bool {
	e.mu.Lock()
	trigger := e.trigger
	e.mu.Unlock()

	if trigger == nil {
		return false
	}
	select {
	case trigger <- struct{}{}:
	default:
	}
	return true
}

// Stop ends the thread after the current step and finalizes the runnable.
func (e *EventActivity) Stop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.task == nil {
		return false
	}
	close(e.quit)
	if err := e.task.Delete(); err != nil {
		e.opts.logger.Warn("Failed to delete event thread", zap.String("thread", e.name), zap.Error(err))
	}
	e.task, e.trigger, e.quit = nil, nil, nil
	e.runner.Finalize()
	return true
}

func (e *EventActivity) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task != nil
}

func (e *EventActivity) Name() string { return e.name }
