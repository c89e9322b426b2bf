package afip

import (
	"sync"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// BreakerState represents the state of the circuit breaker
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // Normal operation
	BreakerOpen                         // AFIP considered down, calls fail fast
	BreakerHalfOpen                     // Probing whether AFIP recovered
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

// CircuitBreaker stops hammering an AFIP endpoint that keeps timing out. Only
// transient failures count; rejections and protocol errors mean AFIP is up.
type CircuitBreaker struct {
	maxFailures      int
	cooldownPeriod   time.Duration
	successThreshold int
	now              func() time.Time

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	successCount    int
	lastStateChange time.Time
	onStateChange   func(BreakerState)
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(maxFailures int, cooldownPeriod time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if cooldownPeriod <= 0 {
		cooldownPeriod = 30 * time.Second
	}

	return &CircuitBreaker{
		maxFailures:      maxFailures,
		cooldownPeriod:   cooldownPeriod,
		successThreshold: 2,
		now:              time.Now,
		state:            BreakerClosed,
	}
}

// OnStateChange registers a hook invoked (under lock) on every transition.
func (cb *CircuitBreaker) OnStateChange(fn func(BreakerState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Execute runs fn unless the circuit is open. An open circuit is reported as a
// transient error so callers know re-invocation later is safe.
func (cb *CircuitBreaker) Execute(op string, fn func() error) error {
	if err := cb.allow(op); err != nil {
		return err
	}

	err := fn()
	cb.record(fiscal.IsTransient(err))
	return err
}

func (cb *CircuitBreaker) allow(op string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != BreakerOpen {
		return nil
	}
	if cb.now().Sub(cb.lastStateChange) < cb.cooldownPeriod {
		return fiscal.NewError(fiscal.KindTransient, op, "circuit breaker is open", nil)
	}
	cb.transition(BreakerHalfOpen)
	cb.successCount = 0
	return nil
}

func (cb *CircuitBreaker) record(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if failed {
		cb.failureCount++
		cb.successCount = 0
		// Any failure while half-open re-opens immediately.
		if cb.state == BreakerHalfOpen || cb.failureCount >= cb.maxFailures {
			cb.transition(BreakerOpen)
		}
		return
	}

	cb.successCount++
	switch cb.state {
	case BreakerHalfOpen:
		if cb.successCount >= cb.successThreshold {
			cb.transition(BreakerClosed)
			cb.failureCount = 0
			cb.successCount = 0
		}
	case BreakerClosed:
		cb.failureCount = 0
	}
}

func (cb *CircuitBreaker) transition(to BreakerState) {
	if cb.state == to {
		return
	}
	cb.state = to
	cb.lastStateChange = cb.now()
	if cb.onStateChange != nil {
		cb.onStateChange(to)
	}
}

// State returns the current circuit breaker state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(BreakerClosed)
	cb.failureCount = 0
	cb.successCount = 0
}
