package activity

import (
	"github.com/getsentry/sentry-go"
	"github.com/wehubfusion/Daedalus/pkg/metrics"
	"github.com/wehubfusion/Daedalus/pkg/rtos"
	"go.uber.org/zap"
)

type options struct {
	scheduler   rtos.Scheduler
	cpuAffinity uint64
	clock       rtos.Clock
	logger      *zap.Logger
	metrics     *metrics.Collector
	hub         *sentry.Hub
}

// Option configures a TimerThread or EventActivity.
type Option func(*options)

// WithScheduler sets the policy the thread is created with. MakeHardRealtime
// switches to SchedFIFO later regardless.
func WithScheduler(s rtos.Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

func WithCPUAffinity(mask uint64) Option {
	return func(o *options) { o.cpuAffinity = mask }
}

// WithClock replaces the monotonic system clock, mainly for tests.
func WithClock(c rtos.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the collector; nil disables metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithSentryHub sets the hub panics are reported to.
func WithSentryHub(h *sentry.Hub) Option {
	return func(o *options) { o.hub = h }
}

func buildOptions(opts []Option) options {
	o := options{
		scheduler: rtos.SchedOther,
		logger:    zap.L(),
		metrics:   metrics.Default(),
		hub:       sentry.CurrentHub().Clone(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}
