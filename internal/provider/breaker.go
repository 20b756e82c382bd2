package provider

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Allow while the breaker rejects calls.
var ErrCircuitOpen = errors.New("provider: circuit breaker is open")

// BreakerState is the state of the records backend circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets every call through and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the cool-down elapses.
	BreakerOpen
	// BreakerHalfOpen lets trial calls through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// minRateSamples is the smallest window population for which the error rate
// is considered.
const minRateSamples = 10

// CircuitBreaker guards the records backend. It trips after a run of
// consecutive failures or when the failure rate inside a tumbling window
// crosses a threshold. Safe for concurrent use.
type CircuitBreaker struct {
	mu sync.Mutex

	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time

	failureThreshold int
	successThreshold int
	cooldown         time.Duration

	rateThreshold  float64
	rateWindow     time.Duration
	windowStart    time.Time
	windowCalls    int
	windowFailures int

	onChange func(BreakerState)
	now      func() time.Time
}

// NewCircuitBreaker creates a breaker. Non-positive thresholds fall back to
// 5 failures, 2 successes and a 30s cool-down. A zero rate threshold or
// window disables rate-based tripping.
func NewCircuitBreaker(failureThreshold, successThreshold int, cooldown time.Duration,
	rateThreshold float64, rateWindow time.Duration) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if successThreshold < 1 {
		successThreshold = 2
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	cb := &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
		rateThreshold:    rateThreshold,
		rateWindow:       rateWindow,
		now:              time.Now,
	}
	cb.windowStart = cb.now()
	return cb
}

// OnStateChange registers fn to be called after every transition. fn runs
// with the breaker lock held and must not call back into the breaker.
func (cb *CircuitBreaker) OnStateChange(fn func(BreakerState)) {
	cb.mu.Lock()
	cb.onChange = fn
	cb.mu.Unlock()
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.expireOpen()
	if cb.state == BreakerOpen {
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess records a call that reached the backend and was not a
// server failure.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
		cb.countInWindow(false)
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.transition(BreakerClosed)
		}
	}
}

// RecordFailure records a transport failure or a 5xx response.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		cb.countInWindow(true)
		if cb.failures >= cb.failureThreshold || cb.rateExceeded() {
			cb.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		cb.transition(BreakerOpen)
	}
}

// State returns the current state, moving Open to HalfOpen once the
// cool-down has elapsed.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expireOpen()
	return cb.state
}

// Counts returns the consecutive failure and half-open success counters.
func (cb *CircuitBreaker) Counts() (failures, successes int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures, cb.successes
}

// ErrorRate returns the failure rate and call count of the current window.
func (cb *CircuitBreaker) ErrorRate() (rate float64, calls int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.rollWindow()
	if cb.windowCalls == 0 {
		return 0, 0
	}
	return float64(cb.windowFailures) / float64(cb.windowCalls), cb.windowCalls
}

// Lock must be held by the callers of the helpers below.

func (cb *CircuitBreaker) transition(to BreakerState) {
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	if to == BreakerOpen {
		cb.openedAt = cb.now()
	}
	if to != BreakerHalfOpen {
		cb.resetWindow()
	}
	if cb.onChange != nil {
		cb.onChange(to)
	}
}

func (cb *CircuitBreaker) expireOpen() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) > cb.cooldown {
		cb.transition(BreakerHalfOpen)
	}
}

func (cb *CircuitBreaker) countInWindow(failed bool) {
	if cb.rateWindow <= 0 {
		return
	}
	cb.rollWindow()
	cb.windowCalls++
	if failed {
		cb.windowFailures++
	}
}

func (cb *CircuitBreaker) rollWindow() {
	if cb.rateWindow > 0 && cb.now().Sub(cb.windowStart) > cb.rateWindow {
		cb.resetWindow()
	}
}

func (cb *CircuitBreaker) resetWindow() {
	cb.windowStart = cb.now()
	cb.windowCalls = 0
	cb.windowFailures = 0
}

func (cb *CircuitBreaker) rateExceeded() bool {
	if cb.rateThreshold <= 0 || cb.rateWindow <= 0 || cb.windowCalls < minRateSamples {
		return false
	}
	return float64(cb.windowFailures)/float64(cb.windowCalls) >= cb.rateThreshold
}
