package rtos

import (
	"errors"
	"sync"
	"testing"
	"time"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeClock advances only when SleepUntil is called or work is simulated.
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

func newPeriodicTask(clock Clock) *Task {
	return &Task{
		name:       "test",
		clock:      clock,
		waitPolicy: WaitAbsolute,
		logger:     zap.NewNop(),
		done:       make(chan struct{}),
	}
}

func TestWaitPeriod_NotPeriodic(t *testing.T) {
	clock := &fakeClock{now: 42}
	task := newPeriodicTask(clock)

	if status := task.WaitPeriod(); status != OnTime {
		t.Fatalf("expected OnTime, got %v", status)
	}
	if clock.Now() != 42 {
		t.Fatalf("clock moved for non-periodic task: %v", clock.Now())
	}
}

func TestWaitPeriod_AbsoluteRearm(t *testing.T) {
	clock := &fakeClock{now: 1000}
	task := newPeriodicTask(clock)

	const period = 10 * time.Millisecond
	start := clock.Now()
	task.MakePeriodic(period)

	for n := 1; n <= 5; n++ {
		clock.Advance(time.Millisecond)
		if status := task.WaitPeriod(); status != OnTime {
			t.Fatalf("cycle %d: expected OnTime, got %v", n, status)
		}
		if got, want := clock.Now(), start+time.Duration(n)*period; got != want {
			t.Fatalf("cycle %d: woke at %v, want %v", n, got, want)
		}
		if got, want := task.PeriodMark(), start+time.Duration(n+1)*period; got != want {
			t.Fatalf("cycle %d: mark %v, want %v", n, got, want)
		}
	}
}

func TestWaitPeriod_OverrunAbsolute(t *testing.T) {
	clock := &fakeClock{}
	task := newPeriodicTask(clock)

	const period = 10 * time.Millisecond
	task.MakePeriodic(period)

	// Work takes 1.5 periods.
	clock.Advance(15 * time.Millisecond)
	if status := task.WaitPeriod(); status != Overrun {
		t.Fatalf("expected Overrun, got %v", status)
	}
	if got := task.PeriodMark(); got != 20*time.Millisecond {
		t.Fatalf("absolute mark should keep phase, got %v", got)
	}

	// The following period keeps the original phase.
	if status := task.WaitPeriod(); status != OnTime {
		t.Fatalf("expected OnTime after catch-up, got %v", status)
	}
	if got := clock.Now(); got != 20*time.Millisecond {
		t.Fatalf("woke at %v, want 20ms", got)
	}
}

func TestWaitPeriod_OverrunRelative(t *testing.T) {
	clock := &fakeClock{}
	task := newPeriodicTask(clock)
	task.SetWaitPolicy(WaitRelative)

	const period = 10 * time.Millisecond
	task.MakePeriodic(period)

	clock.Advance(15 * time.Millisecond)
	if status := task.WaitPeriod(); status != Overrun {
		t.Fatalf("expected Overrun, got %v", status)
	}
	if got := task.PeriodMark(); got != 25*time.Millisecond {
		t.Fatalf("relative mark should re-sync on wake-up, got %v", got)
	}
}

func TestSetPeriod_Rearms(t *testing.T) {
	clock := &fakeClock{now: 5 * time.Millisecond}
	task := newPeriodicTask(clock)

	task.SetPeriod(time.Millisecond)
	if task.Period() != time.Millisecond {
		t.Fatalf("unexpected period %v", task.Period())
	}
	if task.PeriodMark() != 6*time.Millisecond {
		t.Fatalf("unexpected mark %v", task.PeriodMark())
	}

	task.SetPeriod(0)
	if status := task.WaitPeriod(); status != OnTime {
		t.Fatalf("expected OnTime for zero period, got %v", status)
	}
}

func TestCheckPriority(t *testing.T) {
	tests := []struct {
		name      string
		scheduler Scheduler
		priority  int
		wantSched Scheduler
		wantPrio  int
		wantOK    bool
	}{
		{"other zero", SchedOther, 0, SchedOther, 0, true},
		{"other positive", SchedOther, 10, SchedOther, 0, false},
		{"fifo in range", SchedFIFO, 50, SchedFIFO, 50, true},
		{"fifo too low", SchedFIFO, 0, SchedFIFO, LowestPriority, false},
		{"fifo too high", SchedFIFO, 150, SchedFIFO, HighestPriority, false},
		{"rr too high", SchedRR, 1000, SchedRR, HighestPriority, false},
		{"unknown scheduler", Scheduler(7), 0, SchedOther, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, p, ok := CheckPriority(tt.scheduler, tt.priority)
			if s != tt.wantSched || p != tt.wantPrio || ok != tt.wantOK {
				t.Errorf("CheckPriority(%v, %d) = (%v, %d, %v), want (%v, %d, %v)",
					tt.scheduler, tt.priority, s, p, ok, tt.wantSched, tt.wantPrio, tt.wantOK)
			}
		})
	}
}

func TestCreate_ClampsPriorityWithWarning(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)

	task, err := Create(TaskOptions{
		Name:      "clamped",
		Scheduler: SchedOther,
		Priority:  42,
		Logger:    zap.New(core),
	}, func(*Task) {})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer task.Delete()

	if logs.FilterMessage("Forcing priority of thread").Len() != 1 {
		t.Fatalf("expected one clamp warning, got %v", logs.All())
	}
	<-task.Done()
	if task.Priority() != 0 {
		t.Fatalf("expected priority 0 for SCHED_OTHER, got %d", task.Priority())
	}
}

func TestCreate_ClampsRealtimePriority(t *testing.T) {
	tests := []struct {
		name     string
		priority int
		want     int
	}{
		{"below lowest", LowestPriority - 1, LowestPriority},
		{"above highest", HighestPriority + 1, HighestPriority},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			task, err := Create(TaskOptions{
				Name:      "fifo",
				Scheduler: SchedFIFO,
				Priority:  tt.priority,
				Logger:    zap.New(core),
			}, func(*Task) {})
			if err == nil {
				defer task.Delete()
			}

			clamps := logs.FilterMessage("Forcing priority of thread").All()
			if len(clamps) != 1 {
				t.Fatalf("expected one clamp warning, got %v", logs.All())
			}
			if got := clamps[0].ContextMap()["priority"]; got != int64(tt.want) {
				t.Fatalf("logged priority = %v, want %d", got, tt.want)
			}
		})
	}
}

func TestSetPriority_ClampsWithWarning(t *testing.T) {
	tests := []struct {
		name      string
		scheduler Scheduler
		priority  int
		want      int
	}{
		{"fifo below lowest", SchedFIFO, -5, LowestPriority},
		{"fifo above highest", SchedFIFO, 200, HighestPriority},
		{"rr above highest", SchedRR, 100, HighestPriority},
		{"other nonzero", SchedOther, 7, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			task := &Task{name: "idle", scheduler: tt.scheduler, logger: zap.New(core)}

			if err := task.SetPriority(tt.priority); err != nil {
				t.Fatalf("SetPriority failed: %v", err)
			}
			if task.Priority() != tt.want {
				t.Fatalf("priority = %d, want %d", task.Priority(), tt.want)
			}
			if task.Scheduler() != tt.scheduler {
				t.Fatalf("scheduler = %v, want %v", task.Scheduler(), tt.scheduler)
			}
			if logs.FilterMessage("Forcing priority of thread").Len() != 1 {
				t.Fatalf("expected one clamp warning, got %v", logs.All())
			}
		})
	}
}

func TestSetScheduler_UnknownWarns(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	task := &Task{name: "idle", scheduler: SchedFIFO, priority: 10, logger: zap.New(core)}

	if err := task.SetScheduler(Scheduler(9)); err != nil {
		t.Fatalf("SetScheduler failed: %v", err)
	}
	if task.Scheduler() != SchedOther || task.Priority() != 0 {
		t.Fatalf("got %v/%d, want SCHED_OTHER/0", task.Scheduler(), task.Priority())
	}
	unknown := logs.FilterMessage("Unknown scheduler type").All()
	if len(unknown) != 1 || unknown[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one unknown-scheduler warning, got %v", logs.All())
	}
}

func TestCreate_DefaultName(t *testing.T) {
	task, err := Create(TaskOptions{Logger: zap.NewNop()}, func(*Task) {})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer task.Delete()

	if task.Name() != DefaultThreadName {
		t.Fatalf("expected name %q, got %q", DefaultThreadName, task.Name())
	}
}

func TestCreate_NilEntry(t *testing.T) {
	if _, err := Create(TaskOptions{}, nil); err == nil {
		t.Fatal("expected error for nil entry")
	}
}

func TestCreate_RegistersBeforeReturning(t *testing.T) {
	release := make(chan struct{})
	selfSeen := make(chan bool, 1)

	task, err := Create(TaskOptions{Name: "self", Logger: zap.NewNop()}, func(tk *Task) {
		selfSeen <- tk.IsSelf()
		<-release
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if task.PID() == 0 {
		t.Fatal("expected a process id")
	}
	if !task.Running() {
		t.Fatal("task should be running once Create returns")
	}
	if task.IsSelf() {
		t.Fatal("IsSelf must be false from another goroutine")
	}

	close(release)
	if err := task.Delete(); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if task.Running() {
		t.Fatal("task still running after Delete")
	}
	if tid := task.TID(); tid != 0 && !<-selfSeen {
		t.Fatal("IsSelf should be true on the task thread")
	}
}

func TestDelete_Twice(t *testing.T) {
	task, err := Create(TaskOptions{Logger: zap.NewNop()}, func(*Task) {})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := task.Delete(); err != nil {
		t.Fatalf("first Delete failed: %v", err)
	}
	if err := task.Delete(); !errors.Is(err, sdkerrors.ErrTaskDeleted) {
		t.Fatalf("expected ErrTaskDeleted, got %v", err)
	}
}

func TestCreate_PeriodicLoop(t *testing.T) {
	clock := &fakeClock{}
	var marks []time.Duration

	task, err := Create(TaskOptions{Name: "loop", Clock: clock, Logger: zap.NewNop()}, func(tk *Task) {
		tk.MakePeriodic(time.Millisecond)
		for i := 0; i < 3; i++ {
			tk.WaitPeriod()
			marks = append(marks, clock.Now())
		}
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := task.Delete(); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}
	if len(marks) != len(want) {
		t.Fatalf("expected %d cycles, got %d", len(want), len(marks))
	}
	for i := range want {
		if marks[i] != want[i] {
			t.Errorf("cycle %d woke at %v, want %v", i, marks[i], want[i])
		}
	}
}

func TestMainTask_Singleton(t *testing.T) {
	first := MainTask()
	second := MainTask()
	if first != second {
		t.Fatal("MainTask should return the same handle")
	}
	if first.Name() != "main" {
		t.Fatalf("unexpected name %q", first.Name())
	}
	if err := first.Delete(); err == nil {
		t.Fatal("Delete on the main task should fail")
	}

	DeleteMainTask()
	DeleteMainTask()

	third := MainTask()
	defer DeleteMainTask()
	if third == first {
		t.Fatal("expected a fresh main task after DeleteMainTask")
	}
}
