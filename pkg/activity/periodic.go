package activity

import (
	"sync"
	"time"
)

// PeriodicActivity steps a Runnable on a TimerThread, once per period of
// that thread.
type PeriodicActivity struct {
	runner Runnable
	thread *TimerThread

	mu     sync.Mutex
	active bool
}

func NewPeriodicActivity(thread *TimerThread, r Runnable) *PeriodicActivity {
	return &PeriodicActivity{runner: r, thread: thread}
}

// Start initializes the runnable and registers it with the thread. It
// returns false when already active, when Initialize fails, or when the
// thread refuses the registration.
func (a *PeriodicActivity) Start() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active {
		return false
	}
	if !a.runner.Initialize() {
		return false
	}
	if !a.thread.AddActivity(a) {
		a.runner.Finalize()
		return false
	}
	a.active = true
	return true
}

// Stop unregisters the runnable and finalizes it. Finalize runs after the
// last Step has returned.
func (a *PeriodicActivity) Stop() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active {
		return false
	}
	a.thread.RemoveActivity(a)
	a.active = false
	a.runner.Finalize()
	return true
}

func (a *PeriodicActivity) IsActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func (a *PeriodicActivity) Thread() *TimerThread { return a.thread }
func (a *PeriodicActivity) Period() time.Duration { return a.thread.Period() }
func (a *PeriodicActivity) Runner() Runnable { return a.runner }
