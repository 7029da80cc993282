package activity

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/wehubfusion/Daedalus/pkg/config"
	"github.com/wehubfusion/Daedalus/pkg/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type countingRunnable struct {
	steps       atomic.Int64
	initialized atomic.Bool
	finalized   atomic.Bool
	initResult  bool
	onStep      func()
}

func newCountingRunnable() *countingRunnable {
	return &countingRunnable{initResult: true}
}

func (r *countingRunnable) Initialize() bool {
	r.initialized.Store(true)
	return r.initResult
}

func (r *countingRunnable) Step() {
	r.steps.Add(1)
	if r.onStep != nil {
		r.onStep()
	}
}

func (r *countingRunnable) Finalize() {
	r.finalized.Store(true)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Duration
}

func (c *fakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) SleepUntil(deadline time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if deadline > c.now {
		c.now = deadline
	}
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestThread(t *testing.T, opts ...Option) *TimerThread {
	t.Helper()
	opts = append([]Option{WithLogger(zap.NewNop()), WithMetrics(nil)}, opts...)
	tt, err := NewTimerThread(10, "test-timer", time.Millisecond, opts...)
	if err != nil {
		t.Fatalf("NewTimerThread failed: %v", err)
	}
	t.Cleanup(tt.Release)
	return tt
}

func TestTimerThread_StepsActivities(t *testing.T) {
	tt := newTestThread(t)
	if tt.State() != Uninitialized {
		t.Fatalf("expected uninitialized, got %v", tt.State())
	}

	r := newCountingRunnable()
	a := NewPeriodicActivity(tt, r)
	if !a.Start() {
		t.Fatal("activity Start failed")
	}
	if !r.initialized.Load() {
		t.Fatal("Initialize not called")
	}

	if !tt.Start() {
		t.Fatal("thread Start failed")
	}
	if tt.Start() {
		t.Fatal("second Start should fail")
	}

	waitFor(t, "5 steps", func() bool { return r.steps.Load() >= 5 })

	if !tt.Stop() {
		t.Fatal("Stop failed")
	}
	if tt.State() != Stopped {
		t.Fatalf("expected stopped, got %v", tt.State())
	}
	steps := r.steps.Load()
	time.Sleep(10 * time.Millisecond)
	if r.steps.Load() != steps {
		t.Fatal("activity stepped after Stop returned")
	}

	if !tt.Start() {
		t.Fatal("restart failed")
	}
	waitFor(t, "steps after restart", func() bool { return r.steps.Load() > steps })

	if !a.Stop() {
		t.Fatal("activity Stop failed")
	}
	if !r.finalized.Load() {
		t.Fatal("Finalize not called")
	}
	steps = r.steps.Load()
	time.Sleep(10 * time.Millisecond)
	if r.steps.Load() != steps {
		t.Fatal("activity stepped after removal")
	}
}

func TestTimerThread_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector failed: %v", err)
	}
	tt := newTestThread(t, WithMetrics(collector))

	r := newCountingRunnable()
	NewPeriodicActivity(tt, r).Start()
	tt.Start()
	waitFor(t, "3 steps", func() bool { return r.steps.Load() >= 3 })
	tt.Stop()

	n, err := testutil.GatherAndCount(reg, "daedalus_activity_steps_total")
	if err != nil {
		t.Fatalf("GatherAndCount failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("step series = %d, want 1", n)
	}
}

func TestPeriodicActivity_StartRules(t *testing.T) {
	tt := newTestThread(t)

	failing := newCountingRunnable()
	failing.initResult = false
	if NewPeriodicActivity(tt, failing).Start() {
		t.Fatal("Start should fail when Initialize fails")
	}

	r := newCountingRunnable()
	a := NewPeriodicActivity(tt, r)
	if !a.Start() {
		t.Fatal("Start failed")
	}
	if a.Start() {
		t.Fatal("second Start should fail")
	}
	if tt.AddActivity(a) {
		t.Fatal("duplicate AddActivity should fail")
	}
	if !a.Stop() || a.Stop() {
		t.Fatal("Stop should succeed exactly once")
	}
	if a.IsActive() {
		t.Fatal("activity still active")
	}
}

func TestTimerThread_RecoversPanics(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	tt := newTestThread(t, WithLogger(zap.New(core)))

	bad := NewPeriodicActivity(tt, StepFunc(func() { panic("boom") }))
	good := newCountingRunnable()
	bad.Start()
	NewPeriodicActivity(tt, good).Start()

	tt.Start()
	waitFor(t, "steps past panics", func() bool { return good.steps.Load() >= 3 })
	tt.Stop()

	if logs.FilterMessage("Activity step panicked").Len() == 0 {
		t.Fatal("expected panic to be logged")
	}
}

func TestTimerThread_CountsOverruns(t *testing.T) {
	clock := &fakeClock{}
	tt := newTestThread(t, WithClock(clock))

	// Every step takes two periods.
	r := newCountingRunnable()
	r.onStep = func() { clock.Advance(2 * time.Millisecond) }
	NewPeriodicActivity(tt, r).Start()

	tt.Start()
	waitFor(t, "overruns", func() bool { return tt.Overruns() >= 3 })
	tt.Stop()

	if tt.Cycles() < tt.Overruns() {
		t.Fatalf("cycles %d < overruns %d", tt.Cycles(), tt.Overruns())
	}
}

func TestTimerThread_ReleaseInvalidates(t *testing.T) {
	tt := newTestThread(t)
	tt.Start()
	tt.Release()

	if tt.State() != Released {
		t.Fatalf("expected released, got %v", tt.State())
	}
	if tt.Start() {
		t.Fatal("Start after Release should fail")
	}
	if tt.AddActivity(NewPeriodicActivity(tt, newCountingRunnable())) {
		t.Fatal("AddActivity after Release should fail")
	}
	tt.Release()
}

func TestZeroTimeThread_Lifecycle(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	SetZeroTimeConfig(config.ZeroTimeConfig{
		Name:     "ZTT",
		Priority: 50,
		Period:   time.Millisecond,
	}, WithLogger(zap.New(core)), WithMetrics(nil))
	t.Cleanup(func() {
		ReleaseZeroTimeThread()
		SetZeroTimeConfig(config.Default().ZeroTime)
	})

	first, err := ZeroTimeThread()
	if err != nil {
		t.Fatalf("ZeroTimeThread failed: %v", err)
	}
	second, err := ZeroTimeThread()
	if err != nil {
		t.Fatalf("ZeroTimeThread failed: %v", err)
	}
	if first != second {
		t.Fatal("expected the same instance")
	}
	if first.Name() != "ZTT" || first.Period() != time.Millisecond {
		t.Fatalf("unexpected instance %s/%s", first.Name(), first.Period())
	}
	if logs.FilterMessage("Zero-time thread created").Len() != 1 {
		t.Fatal("expected one construction log line")
	}

	if !first.Start() {
		t.Fatal("Start failed")
	}
	if !ReleaseZeroTimeThread() {
		t.Fatal("Release failed")
	}
	if first.Start() {
		t.Fatal("Start on a released instance should fail")
	}
	if !ReleaseZeroTimeThread() {
		t.Fatal("Release without instance should return true")
	}

	third, err := ZeroTimeThread()
	if err != nil {
		t.Fatalf("ZeroTimeThread failed: %v", err)
	}
	if third == first {
		t.Fatal("expected a new instance after release")
	}
}

func TestEventActivity(t *testing.T) {
	r := newCountingRunnable()
	e := NewEventActivity(0, "event", r, WithLogger(zap.NewNop()), WithMetrics(nil))

	if e.Trigger() {
		t.Fatal("Trigger before Start should fail")
	}
	if !e.Start() {
		t.Fatal("Start failed")
	}
	if e.Start() {
		t.Fatal("second Start should fail")
	}

	if !e.Trigger() {
		t.Fatal("Trigger failed")
	}
	waitFor(t, "one step", func() bool { return r.steps.Load() == 1 })

	for i := 0; i < 10; i++ {
		e.Trigger()
	}
	waitFor(t, "coalesced steps", func() bool { return r.steps.Load() >= 2 })
	if n := r.steps.Load(); n > 11 {
		t.Fatalf("more steps than triggers: %d", n)
	}

	if !e.Stop() {
		t.Fatal("Stop failed")
	}
	if !r.finalized.Load() {
		t.Fatal("Finalize not called")
	}
	if e.IsActive() || e.Trigger() {
		t.Fatal("activity should be inactive after Stop")
	}
}
