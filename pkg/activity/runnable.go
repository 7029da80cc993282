package activity

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/wehubfusion/Daedalus/pkg/metrics"
	"go.uber.org/zap"
)

// Runnable is the user code driven by an activity.
type Runnable interface {
	// Initialize is called once before the first Step. Returning false
	// aborts the start.
	Initialize() bool
	Step()
	// Finalize is called once after the last Step.
	Finalize()
}

// StepFunc adapts a plain function to Runnable.
type StepFunc func()

func (f StepFunc) Initialize() bool { return true }
func (f StepFunc) Step()            { f() }
func (f StepFunc) Finalize()        {}

// stepper runs Step with panic recovery. A panic is reported to sentry,
// counted and logged; the caller's loop carries on.
type stepper struct {
	thread  string
	logger  *zap.Logger
	metrics *metrics.Collector
	hub     *sentry.Hub
}

func (s *stepper) step(r Runnable) {
	defer func() {
		if p := recover(); p != nil {
			s.metrics.Panic(s.thread)
			if s.hub != nil {
				s.hub.WithScope(func(scope *sentry.Scope) {
					scope.SetTag("thread", s.thread)
					s.hub.Recover(p)
				})
			}
			s.logger.Error("Activity step panicked",
				zap.String("thread", s.thread),
				zap.String("panic", fmt.Sprint(p)),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	r.Step()
	s.metrics.Step(s.thread)
}

// stepAll runs every runnable once and records the cycle duration.
func (s *stepper) stepAll(rs []Runnable) {
	start := time.Now()
	for _, r := range rs {
		s.step(r)
	}
	s.metrics.ObserveCycle(s.thread, time.Since(start).Seconds())
}
