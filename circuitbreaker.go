package qobserve

import (
	"sync"
	"time"
)

/*
CircuitState represents the state of a device's circuit breaker.
*/
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation state
	CircuitOpen                         // Device considered wedged, rejecting units
	CircuitHalfOpen                     // Probationary state, allowing limited units
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

/*
CircuitBreaker guards a single device. Evaluations that blow through the
evaluation timeout count as failures; once maxFailures consecutive timeouts
are seen the device stops admitting units until resetTimeout has passed.
This lets callers fail fast instead of queueing behind a wedged device.

The breaker operates in three states:
  - Closed: all units are admitted
  - Open: all units are rejected with DeviceBusyError
  - Half-Open: up to halfOpenMax probe units are admitted
*/
type CircuitBreaker struct {
	mu               sync.Mutex
	maxFailures      int
	resetTimeout     time.Duration
	halfOpenMax      int
	failureCount     int
	state            CircuitState
	openTime         time.Time
	halfOpenAttempts int
}

/*
NewCircuitBreaker creates a breaker in the closed state.

Parameters:
  - maxFailures: consecutive failures before opening the circuit
  - resetTimeout: how long an open circuit waits before probing
  - halfOpenMax: successful probes needed to close again
*/
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, halfOpenMax int) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		halfOpenMax:  halfOpenMax,
		state:        CircuitClosed,
	}
}

// RecordFailure counts a failure and opens the circuit when the threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++

	switch cb.state {
	case CircuitHalfOpen:
		// A failed probe reopens immediately.
		cb.state = CircuitOpen
		cb.openTime = time.Now()
	case CircuitClosed:
		if cb.failureCount >= cb.maxFailures {
			cb.state = CircuitOpen
			cb.openTime = time.Now()
		}
	}
}

// RecordSuccess resets the failure count, or closes a half-open circuit once
// enough probes have succeeded.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.halfOpenAttempts++
		if cb.halfOpenAttempts >= cb.halfOpenMax {
			cb.state = CircuitClosed
			cb.failureCount = 0
			cb.halfOpenAttempts = 0
		}
	case CircuitClosed:
		cb.failureCount = 0
	}
}

// Allow reports whether a unit may be admitted right now.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.openTime) > cb.resetTimeout {
			cb.state = CircuitHalfOpen
			cb.halfOpenAttempts = 0
			return true
		}
		return false
	case CircuitHalfOpen:
		return cb.halfOpenAttempts < cb.halfOpenMax
	default:
		return false
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
