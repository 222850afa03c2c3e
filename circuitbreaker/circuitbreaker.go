package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"anime-recs-api/logcolors"

	log "github.com/sirupsen/logrus"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Normal operation, requests allowed
	StateOpen                  // Circuit tripped, requests blocked
	StateHalfOpen              // Testing if the upstream recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops calls to an upstream after a run of consecutive
// failures and lets a single trial request through once the cooldown has passed.
type CircuitBreaker struct {
	name            string
	state           State
	failures        int
	threshold       int
	cooldown        time.Duration
	halfOpenTimeout time.Duration
	openedAt        time.Time
	halfOpenStart   time.Time
	onStateChange   func(name string, from, to State)
	now             func() time.Time
	mu              sync.Mutex
}

// Config holds circuit breaker configuration
type Config struct {
	Name            string
	Threshold       int           // consecutive failures before opening
	Cooldown        time.Duration // how long to stay open before probing
	HalfOpenTimeout time.Duration // how long a trial request may take before reopening

	// OnStateChange is called with the breaker lock held; it must not call
	// back into the breaker.
	OnStateChange func(name string, from, to State)
}

// Status is a JSON-friendly view of the breaker for the admin surface.
type Status struct {
	Name              string `json:"name"`
	State             string `json:"state"`
	Failures          int    `json:"failures"`
	Threshold         int    `json:"threshold"`
	CooldownSeconds   int    `json:"cooldown_seconds"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// New creates a new circuit breaker
func New(cfg Config) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.HalfOpenTimeout <= 0 {
		cfg.HalfOpenTimeout = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	return &CircuitBreaker{
		name:            cfg.Name,
		state:           StateClosed,
		threshold:       cfg.Threshold,
		cooldown:        cfg.Cooldown,
		halfOpenTimeout: cfg.HalfOpenTimeout,
		onStateChange:   cfg.OnStateChange,
		now:             time.Now,
	}
}

// setStateLocked moves to a new state and notifies the hook. Caller holds cb.mu.
func (cb *CircuitBreaker) setStateLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// Allow reports whether a call may proceed. In the half-open state only
// the first caller after the cooldown gets through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if now.Sub(cb.openedAt) >= cb.cooldown {
			cb.setStateLocked(StateHalfOpen)
			cb.halfOpenStart = now
			log.Infof("%s Cooldown passed, probing upstream (HALF-OPEN)", logcolors.CircuitBreakerPrefix(cb.name))
			return true
		}
		return false

	case StateHalfOpen:
		if now.Sub(cb.halfOpenStart) >= cb.halfOpenTimeout {
			cb.setStateLocked(StateOpen)
			cb.openedAt = now
			log.Warnf("%s Trial request timed out, back to OPEN", logcolors.CircuitBreakerPrefix(cb.name))
		}
		return false

	default:
		return true
	}
}

// RecordSuccess records a successful call
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.failures = 0
		cb.setStateLocked(StateClosed)
		log.Infof("%s Trial request succeeded, upstream recovered (CLOSED)", logcolors.CircuitBreakerPrefix(cb.name))
	case StateClosed:
		cb.failures = 0
	}
}

// RecordFailure records a failed call
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	now := cb.now()

	switch cb.state {
	case StateHalfOpen:
		cb.openedAt = now
		cb.setStateLocked(StateOpen)
		log.Warnf("%s Trial request failed, back to OPEN", logcolors.CircuitBreakerPrefix(cb.name))

	case StateClosed:
		if cb.failures >= cb.threshold {
			cb.openedAt = now
			cb.setStateLocked(StateOpen)
			log.Warnf("%s Threshold reached (%d failures), OPEN for %v",
				logcolors.CircuitBreakerPrefix(cb.name), cb.failures, cb.cooldown)
		}
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset manually closes the breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.openedAt = time.Time{}
	cb.halfOpenStart = time.Time{}
	cb.setStateLocked(StateClosed)
	log.Infof("%s Manually reset to CLOSED", logcolors.CircuitBreakerPrefix(cb.name))
}

// TimeUntilRetry returns the remaining cooldown when open, the remaining
// trial deadline when half-open, and 0 when closed.
func (cb *CircuitBreaker) TimeUntilRetry() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.timeUntilRetryLocked()
}

func (cb *CircuitBreaker) timeUntilRetryLocked() time.Duration {
	now := cb.now()

	var remaining time.Duration
	switch cb.state {
	case StateOpen:
		remaining = cb.cooldown - now.Sub(cb.openedAt)
	case StateHalfOpen:
		remaining = cb.halfOpenTimeout - now.Sub(cb.halfOpenStart)
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Status returns a snapshot for reporting
func (cb *CircuitBreaker) Status() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Status{
		Name:              cb.name,
		State:             cb.state.String(),
		Failures:          cb.failures,
		Threshold:         cb.threshold,
		CooldownSeconds:   int(cb.cooldown / time.Second),
		RetryAfterSeconds: int(cb.timeUntilRetryLocked().Round(time.Second) / time.Second),
	}
}
