package circuitbreaker

import (
	"sync"
	"time"
)

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Blocking requests
	StateHalfOpen              // Letting trial requests through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transition is a state change produced by one breaker operation.
type Transition struct {
	From State
	To   State
}

func (t Transition) Changed() bool {
	return t.From != t.To
}

type CircuitBreaker struct {
	mutex            sync.Mutex
	state            State
	failures         int
	lastFailure      time.Time
	failureThreshold int
	resetTimeout     time.Duration
	singleTrial      bool
	trialInFlight    bool
	now              func() time.Time
}

// NewCircuitBreaker returns a CLOSED breaker. With singleTrial set, HALF_OPEN
// admits one request at a time instead of all of them.
func NewCircuitBreaker(threshold int, timeout time.Duration, singleTrial bool, now func() time.Time) *CircuitBreaker {
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: threshold,
		resetTimeout:     timeout,
		singleTrial:      singleTrial,
		now:              now,
	}
}

// Allow decides whether a request may proceed. An OPEN breaker moves to
// HALF_OPEN once strictly more than the reset timeout has passed since the
// last failure, and that request is allowed.
func (cb *CircuitBreaker) Allow() (bool, Transition) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	from := cb.state

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) <= cb.resetTimeout {
			return false, Transition{from, from}
		}
		cb.state = StateHalfOpen
		cb.trialInFlight = cb.singleTrial
		return true, Transition{from, cb.state}
	case StateHalfOpen:
		if cb.singleTrial {
			if cb.trialInFlight {
				return false, Transition{from, from}
			}
			cb.trialInFlight = true
		}
		return true, Transition{from, from}
	default:
		return true, Transition{from, from}
	}
}

// RecordFailure counts a failure. The breaker opens when the count reaches
// the threshold, or immediately from HALF_OPEN.
func (cb *CircuitBreaker) RecordFailure() Transition {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	from := cb.state
	cb.failures++
	cb.lastFailure = cb.now()
	cb.trialInFlight = false

	if cb.state == StateHalfOpen || cb.failures >= cb.failureThreshold {
		cb.state = StateOpen
	}

	return Transition{from, cb.state}
}

// RecordSuccess closes the circuit and clears the failure count from any state.
func (cb *CircuitBreaker) RecordSuccess() Transition {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	from := cb.state
	cb.failures = 0
	cb.state = StateClosed
	cb.trialInFlight = false

	return Transition{from, cb.state}
}

// Release frees the HALF_OPEN trial slot of a request that ended without an
// outcome.
func (cb *CircuitBreaker) Release() {
	cb.mutex.Lock()
	cb.trialInFlight = false
	cb.mutex.Unlock()
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Failures() int {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.failures
}

// LastFailure is the zero time until the first failure.
func (cb *CircuitBreaker) LastFailure() time.Time {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.lastFailure
}

func (cb *CircuitBreaker) snapshot() (State, int, time.Time) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state, cb.failures, cb.lastFailure
}
