// Package resilience provides the circuit breaker used around every
// server->host proxy call (§4.5), plus generic retry helpers. Grounded on the teacher
// framework's resilience package (circuit_breaker.go, retry.go) and
// core/circuit_breaker.go's interface.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute when the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// State is the circuit breaker's current state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig configures failure threshold and cooldown.
type CircuitBreakerConfig struct {
	Threshold        int           // consecutive failures before opening
	Timeout          time.Duration // cooldown before allowing a half-open probe
	HalfOpenRequests int           // successes required in half-open to close
}

// DefaultCircuitBreakerConfig mirrors the teacher's defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{Threshold: 5, Timeout: 30 * time.Second, HalfOpenRequests: 3}
}

// CircuitBreaker is a per-target (e.g. per-host) fault-tolerance guard.
type CircuitBreaker struct {
	mu sync.Mutex

	cfg CircuitBreakerConfig

	state          State
	failures       int
	halfOpenOK     int
	openedAt       time.Time
}

// NewCircuitBreaker constructs a breaker starting in the closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = 3
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// CanExecute reports whether a call should be attempted right now,
// transitioning open->half-open once the cooldown has elapsed.
func (b *CircuitBreaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canExecuteLocked()
}

func (b *CircuitBreaker) canExecuteLocked() bool {
	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) >= b.cfg.Timeout {
			b.state = StateHalfOpen
			b.halfOpenOK = 0
			return true
		}
		return false
	default:
		return true
	}
}

// Execute runs fn with circuit breaker protection, recording the outcome.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	b.mu.Lock()
	if !b.canExecuteLocked() {
		b.mu.Unlock()
		return ErrCircuitOpen
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailureLocked()
		return err
	}
	b.onSuccessLocked()
	return nil
}

func (b *CircuitBreaker) onFailureLocked() {
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.cfg.Threshold {
		b.state = StateOpen
		b.openedAt = time.Now()
	}
}

func (b *CircuitBreaker) onSuccessLocked() {
	switch b.state {
	case StateHalfOpen:
		b.halfOpenOK++
		if b.halfOpenOK >= b.cfg.HalfOpenRequests {
			b.state = StateClosed
			b.failures = 0
		}
	case StateClosed:
		b.failures = 0
	}
}

// State returns the current breaker state for diagnostics/metrics.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.halfOpenOK = 0
}
