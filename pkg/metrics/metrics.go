// Package metrics exports runtime counters of threads, ports and streams to
// Prometheus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector groups the Daedalus metric vectors. A nil *Collector is valid and
// records nothing.
type Collector struct {
	steps       *prometheus.CounterVec
	overruns    *prometheus.CounterVec
	panics      *prometheus.CounterVec
	cycle       *prometheus.HistogramVec
	portWrites  *prometheus.CounterVec
	openStreams *prometheus.GaugeVec
}

// NewCollector creates the metric vectors and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daedalus_activity_steps_total",
			Help: "Activity steps executed, per thread.",
		}, []string{"thread"}),
		overruns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daedalus_activity_overruns_total",
			Help: "Periods in which the thread woke up later than its scheduled mark.",
		}, []string{"thread"}),
		panics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daedalus_activity_panics_total",
			Help: "Activity steps that panicked and were recovered.",
		}, []string{"thread"}),
		cycle: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "daedalus_activity_cycle_seconds",
			Help:    "Time spent stepping all activities of one period.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14),
		}, []string{"thread"}),
		portWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daedalus_port_writes_total",
			Help: "Output port writes by result.",
		}, []string{"port", "status"}),
		openStreams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "daedalus_streams_open",
			Help: "Transport stream endpoints currently open.",
		}, []string{"transport"}),
	}

	for _, col := range []prometheus.Collector{c.steps, c.overruns, c.panics, c.cycle, c.portWrites, c.openStreams} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

var (
	defaultOnce      sync.Once
	defaultCollector *Collector
)

// Default returns the collector registered with prometheus.DefaultRegisterer.
// If registration fails the returned collector is nil and records nothing.
func Default() *Collector {
	defaultOnce.Do(func() {
		defaultCollector, _ = NewCollector(prometheus.DefaultRegisterer)
	})
	return defaultCollector
}

func (c *Collector) Step(thread string) {
	if c == nil {
		return
	}
	c.steps.WithLabelValues(thread).Inc()
}

func (c *Collector) Overrun(thread string) {
	if c == nil {
		return
	}
	c.overruns.WithLabelValues(thread).Inc()
}

func (c *Collector) Panic(thread string) {
	if c == nil {
		return
	}
	c.panics.WithLabelValues(thread).Inc()
}

// ObserveCycle records the duration of one period's work in seconds.
func (c *Collector) ObserveCycle(thread string, seconds float64) {
	if c == nil {
		return
	}
	c.cycle.WithLabelValues(thread).Observe(seconds)
}

func (c *Collector) PortWrite(port, status string) {
	if c == nil {
		return
	}
	c.portWrites.WithLabelValues(port, status).Inc()
}

// StreamOpened and StreamClosed track open transport endpoints.
func (c *Collector) StreamOpened(transport string) {
	if c == nil {
		return
	}
	c.openStreams.WithLabelValues(transport).Inc()
}

func (c *Collector) StreamClosed(transport string) {
	if c == nil {
		return
	}
	c.openStreams.WithLabelValues(transport).Dec()
}
