// Package connectivity guards calls to the messaging provider: a circuit
// breaker that stops hammering an unhealthy API, a bounded exponential
// retry, and panic recovery for the bot boundary.
package connectivity

import (
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // calls pass through
	BreakerOpen                         // calls rejected immediately
	BreakerHalfOpen                     // probe calls allowed
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips open after a run of consecutive failures and lets a
// probe through once the reset timeout has elapsed. Safe for concurrent use.
type CircuitBreaker struct {
	mu           sync.Mutex
	service      string
	state        BreakerState
	failures     int
	successes    int
	threshold    int
	resetTimeout time.Duration
	halfOpenMax  int
	openedAt     time.Time
	now          func() time.Time
	onChange     func(service string, from, to BreakerState)
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerThreshold sets the consecutive failure count that opens the breaker.
func WithBreakerThreshold(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.threshold = n }
}

// WithBreakerResetTimeout sets how long the breaker stays open before
// allowing a probe.
func WithBreakerResetTimeout(d time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) { cb.resetTimeout = d }
}

// WithBreakerHalfOpenMax sets how many probe successes close the breaker.
func WithBreakerHalfOpenMax(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.halfOpenMax = n }
}

// WithBreakerClock sets a custom clock (tests).
func WithBreakerClock(fn func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = fn }
}

// WithBreakerOnChange registers a callback invoked on every state change.
// It runs with the breaker lock held and must not call back into the breaker.
func WithBreakerOnChange(fn func(service string, from, to BreakerState)) BreakerOption {
	return func(cb *CircuitBreaker) { cb.onChange = fn }
}

// NewCircuitBreaker creates a breaker for service: 5 failures to open, 30s
// reset timeout, 1 probe success to close.
func NewCircuitBreaker(service string, opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		service:      service,
		state:        BreakerClosed,
		threshold:    5,
		resetTimeout: 30 * time.Second,
		halfOpenMax:  1,
		now:          time.Now,
	}
	for _, o := range opts {
		o(cb)
	}
	return cb
}

// Service returns the name the breaker guards.
func (cb *CircuitBreaker) Service() string { return cb.service }

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state != BreakerOpen
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.halfOpenMax {
			cb.setState(BreakerClosed)
		}
	case BreakerClosed:
		cb.failures = 0
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.threshold {
			cb.setState(BreakerOpen)
		}
	case BreakerHalfOpen:
		cb.setState(BreakerOpen)
	}
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(BreakerClosed)
}

// Must be called with mu held.
func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		cb.setState(BreakerHalfOpen)
	}
}

// Must be called with mu held.
func (cb *CircuitBreaker) setState(to BreakerState) {
	from := cb.state
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	if to == BreakerOpen {
		cb.openedAt = cb.now()
	}
	if from != to && cb.onChange != nil {
		cb.onChange(cb.service, from, to)
	}
}
