// Package resilience gates the two outbound backend dial paths of §4.8
// (database) and §4.6 (presence) behind a circuit breaker per backend, so a
// sustained outage fails fast instead of re-walking every load-balanced
// instance on every call. Trimmed down from the teacher's
// internal/resilience/circuit_breaker.go to the single-probe half-open
// behavior and settings db.Driver and presence.Pool actually exercise;
// the teacher's per-breaker request/rejection counters and state-change
// callback hook have no caller in this gateway.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// State is one of a breaker's three lifecycle states.
type State int32

const (
	StateClosed   State = iota // calls pass through, failures are counted
	StateOpen                  // calls are rejected until ResetTimeout elapses
	StateHalfOpen              // a single probe call is allowed through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Execute without calling fn when the breaker
// is open, or when a half-open probe is already outstanding.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings configures a CircuitBreaker for one backend.
type Settings struct {
	// Name identifies the backend this breaker guards, for log context.
	Name string

	// MaxFailures is the number of consecutive failures before the circuit
	// opens.
	MaxFailures int64

	// ResetTimeout is how long the circuit stays open before allowing a
	// single half-open probe.
	ResetTimeout time.Duration
}

// DefaultSettings gives a backend five consecutive failures before it trips
// open, and thirty seconds before the gateway probes it again.
func DefaultSettings(name string) Settings {
	return Settings{Name: name, MaxFailures: 5, ResetTimeout: 30 * time.Second}
}

// CircuitBreaker gates dial/connect attempts against one backend.
type CircuitBreaker struct {
	settings Settings

	mu              sync.Mutex
	state           State
	failures        int64
	probeInFlight   bool
	lastStateChange time.Time
}

// NewCircuitBreaker builds a breaker starting in the closed state.
func NewCircuitBreaker(settings Settings) *CircuitBreaker {
	if settings.MaxFailures <= 0 {
		settings.MaxFailures = 5
	}
	if settings.ResetTimeout <= 0 {
		settings.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{settings: settings, lastStateChange: time.Now()}
}

// Execute runs fn if the breaker is closed, or lets exactly one call through
// as a half-open probe once ResetTimeout has elapsed. Concurrent callers
// arriving while a probe is outstanding are rejected rather than piling
// onto a backend that hasn't proven it recovered yet.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.recordFailureLocked()
		return err
	}
	cb.recordSuccessLocked()
	return nil
}

// State returns the current state, resolving an expired open period to
// half-open as a side effect (mirroring Execute's own check).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentLocked()
}

// currentLocked must be called with cb.mu held.
func (cb *CircuitBreaker) currentLocked() State {
	if cb.state == StateOpen && time.Since(cb.lastStateChange) >= cb.settings.ResetTimeout {
		cb.transitionLocked(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentLocked() {
	case StateOpen:
		return false
	case StateHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) recordSuccessLocked() {
	switch cb.state {
	case StateHalfOpen:
		cb.transitionLocked(StateClosed)
	case StateClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) recordFailureLocked() {
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.settings.MaxFailures {
			cb.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		cb.transitionLocked(StateOpen)
	}
}

// transitionLocked must be called with cb.mu held.
func (cb *CircuitBreaker) transitionLocked(newState State) {
	if cb.state == newState {
		return
	}
	cb.state = newState
	cb.failures = 0
	cb.probeInFlight = false
	cb.lastStateChange = time.Now()
}
