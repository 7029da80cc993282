// Package concurrency holds guards shared by the network transports.
package concurrency

import (
	"sync"
	"sync/atomic"
	"time"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int32

const (
	// StateClosed lets every operation through
	StateClosed CircuitBreakerState = 0

	// StateOpen rejects operations until the reset timeout has elapsed
	StateOpen CircuitBreakerState = 1

	// StateHalfOpen lets operations through to probe for recovery
	StateHalfOpen CircuitBreakerState = 2
)

// DefaultHalfOpenSuccesses is the number of consecutive successes that close
// a half-open circuit.
const DefaultHalfOpenSuccesses = 3

// CircuitBreaker makes a stream writer fail fast after consecutive publish
// errors instead of waiting on every publish timeout.
type CircuitBreaker struct {
	state                atomic.Int32
	consecutiveFailures  atomic.Int64
	consecutiveSuccesses atomic.Int64
	lastFailure          atomic.Int64 // unix nanoseconds

	failureThreshold  int64
	halfOpenSuccesses int64
	resetTimeout      time.Duration
	now               func() time.Time

	mu       sync.Mutex
	onChange func(from, to CircuitBreakerState)
}

// NewCircuitBreaker opens after failureThreshold consecutive failures and
// probes again after resetTimeout.
func NewCircuitBreaker(failureThreshold int64, resetTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 5 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold:  failureThreshold,
		halfOpenSuccesses: DefaultHalfOpenSuccesses,
		resetTimeout:      resetTimeout,
		now:               time.Now,
	}
}

// OnStateChange registers fn to be called after every transition.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to CircuitBreakerState)) {
	cb.mu.Lock()
	cb.onChange = fn
	cb.mu.Unlock()
}

// IsOpen reports whether operations are currently rejected. An open circuit
// whose reset timeout has elapsed moves to half-open.
func (cb *CircuitBreaker) IsOpen() bool {
	if cb.State() != StateOpen {
		return false
	}
	last := cb.lastFailure.Load()
	if last > 0 && cb.now().Sub(time.Unix(0, last)) > cb.resetTimeout {
		cb.transitionTo(StateHalfOpen)
		return false
	}
	return true
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.consecutiveFailures.Store(0)
	if cb.State() != StateHalfOpen {
		return
	}
	if cb.consecutiveSuccesses.Add(1) >= cb.halfOpenSuccesses {
		cb.transitionTo(StateClosed)
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.consecutiveSuccesses.Store(0)
	cb.lastFailure.Store(cb.now().UnixNano())
	failures := cb.consecutiveFailures.Add(1)

	switch cb.State() {
	case StateClosed:
		if failures >= cb.failureThreshold {
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		cb.transitionTo(StateOpen)
	}
}

func (cb *CircuitBreaker) State() CircuitBreakerState {
	return CircuitBreakerState(cb.state.Load())
}

func (cb *CircuitBreaker) ConsecutiveFailures() int64 {
	return cb.consecutiveFailures.Load()
}

// Reset closes the circuit and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.transitionTo(StateClosed)
	cb.lastFailure.Store(0)
}

func (cb *CircuitBreaker) transitionTo(next CircuitBreakerState) {
	cb.mu.Lock()
	prev := CircuitBreakerState(cb.state.Load())
	if prev == next {
		cb.mu.Unlock()
		return
	}
	cb.state.Store(int32(next))
	switch next {
	case StateClosed:
		cb.consecutiveFailures.Store(0)
		cb.consecutiveSuccesses.Store(0)
	case StateHalfOpen:
		cb.consecutiveSuccesses.Store(0)
	}
	fn := cb.onChange
	cb.mu.Unlock()

	if fn != nil {
		fn(prev, next)
	}
}

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}
