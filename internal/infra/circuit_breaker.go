package infra

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a call is rejected by an open breaker.
var ErrCircuitOpen = errors.New("circuit breaker open")

// State of a CircuitBreaker. The numeric value is exported as a gauge.
type State int

const (
	StateClosed   State = iota // Calls pass
	StateOpen                  // Calls rejected until the cool-down ends
	StateHalfOpen              // Probing
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerConfig holds configuration for creating a circuit breaker.
// Zero values select DefaultCircuitBreakerConfig's.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int           // Consecutive failures that open the breaker
	SuccessThreshold int           // Consecutive probe successes that close it
	Timeout          time.Duration // Cool-down before probing

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)
}

// DefaultCircuitBreakerConfig opens after 5 failures and probes after a minute.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	}
}

// CircuitBreaker stops calling a failing dependency for a cool-down period.
// Once the cool-down has passed calls are let through as probes; enough
// consecutive probe successes close it, any probe failure reopens it.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	streak   int // Failures while closed, successes while half-open
	openedAt time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Do runs fn if the breaker allows it and records the outcome.
// Rejected calls return ErrCircuitOpen without running fn.
// Errors for which countable returns false pass through unrecorded.
func (cb *CircuitBreaker) Do(fn func() error, countable func(error) bool) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	err := fn()
	if err != nil && countable != nil && !countable(err) {
		return err
	}
	cb.record(err == nil)
	return err
}

// Allow reports whether a call may proceed, moving an open breaker whose
// cool-down has passed to half-open.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	if cb.state != StateOpen {
		cb.mu.Unlock()
		return true
	}
	if cb.now().Sub(cb.openedAt) < cb.cfg.Timeout {
		cb.mu.Unlock()
		return false
	}
	from := cb.moveLocked(StateHalfOpen)
	cb.mu.Unlock()

	cb.announce(from, StateHalfOpen)
	return true
}

// Current returns the state for monitoring.
func (cb *CircuitBreaker) Current() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) record(ok bool) {
	cb.mu.Lock()
	from, to := cb.state, cb.state
	switch cb.state {
	case StateClosed:
		if ok {
			cb.streak = 0
		} else if cb.streak++; cb.streak >= cb.cfg.FailureThreshold {
			to = StateOpen
		}
	case StateHalfOpen:
		if !ok {
			to = StateOpen
		} else if cb.streak++; cb.streak >= cb.cfg.SuccessThreshold {
			to = StateClosed
		}
	}
	if to != from {
		cb.moveLocked(to)
	}
	cb.mu.Unlock()

	if to != from {
		cb.announce(from, to)
	}
}

// moveLocked switches state and restarts the streak.
func (cb *CircuitBreaker) moveLocked(to State) State {
	from := cb.state
	cb.state = to
	cb.streak = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	return from
}

func (cb *CircuitBreaker) announce(from, to State) {
	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "Circuit breaker state changed",
		slog.String("name", cb.cfg.Name),
		slog.String("from", from.String()),
		slog.String("to", to.String()))

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}
