package rtos

import (
	"os"
	"runtime"
	"sync"
)

var (
	mainMu   sync.Mutex
	mainTask *Task
)

// MainTask returns the pseudo-task representing the calling thread. The
// first call locks the calling goroutine to its OS thread and records it;
// later calls return the same handle until DeleteMainTask.
//
// Call it from the goroutine that runs the process's control loop, usually
// main.
func MainTask() *Task {
	mainMu.Lock()
	defer mainMu.Unlock()

	if mainTask != nil {
		return mainTask
	}

	runtime.LockOSThread()

	t := &Task{
		name:       "main",
		pid:        os.Getpid(),
		tid:        gettid(),
		waitPolicy: WaitAbsolute,
		clock:      SystemClock(),
		logger:     defaultLogger(),
		done:       make(chan struct{}),
		main:       true,
	}
	if s, p, err := getScheduling(t.tid); err == nil {
		t.scheduler, t.priority = s, p
	}
	t.running.Store(true)
	mainTask = t
	return t
}

// DeleteMainTask releases the main pseudo-task. It must run on the same
// thread that called MainTask. It is a no-op when no main task exists.
func DeleteMainTask() {
	mainMu.Lock()
	defer mainMu.Unlock()

	if mainTask == nil {
		return
	}
	mainTask.running.Store(false)
	mainTask.deleted.Store(true)
	close(mainTask.done)
	mainTask = nil
	runtime.UnlockOSThread()
}
