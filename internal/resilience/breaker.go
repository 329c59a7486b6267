package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen indicates the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerStatus is the externally visible breaker state.
type BreakerStatus string

const (
	BreakerClosed   BreakerStatus = "closed"
	BreakerOpen     BreakerStatus = "open"
	BreakerHalfOpen BreakerStatus = "half_open"
)

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
	Now          func() time.Time

	// OnTransition observes state changes (open, half-open trial, close).
	OnTransition func(from, to BreakerStatus)
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// CircuitBreaker stops calls after repeated consecutive failures. After the
// reset timeout exactly one trial call runs half-open; its outcome closes or
// reopens the circuit.
type CircuitBreaker struct {
	mu           sync.Mutex
	maxFails     int
	resetAfter   time.Duration
	now          func() time.Time
	onTransition func(from, to BreakerStatus)

	state          circuitState
	failures       int
	openedAt       time.Time
	halfOpenFlight bool
}

// NewCircuitBreaker constructs a circuit breaker with sane defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	maxFails := cfg.MaxFailures
	if maxFails < 1 {
		maxFails = 5
	}
	resetAfter := cfg.ResetTimeout
	if resetAfter <= 0 {
		resetAfter = 30 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		maxFails:     maxFails,
		resetAfter:   resetAfter,
		now:          now,
		onTransition: cfg.OnTransition,
		state:        circuitClosed,
	}
}

// Status reports the current breaker state and consecutive failure count.
func (c *CircuitBreaker) Status() (BreakerStatus, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status(), c.failures
}

func (c *CircuitBreaker) status() BreakerStatus {
	switch c.state {
	case circuitOpen:
		return BreakerOpen
	case circuitHalfOpen:
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}

func (c *CircuitBreaker) transition(from BreakerStatus, to circuitState) {
	c.state = to
	if c.onTransition != nil && from != c.status() {
		c.onTransition(from, c.status())
	}
}

// Execute runs the given function while enforcing breaker state. An open
// circuit rejects immediately without invoking fn.
func (c *CircuitBreaker) Execute(fn func() error) error {
	if c == nil {
		return fn()
	}

	now := c.now()

	c.mu.Lock()
	switch c.state {
	case circuitOpen:
		if now.Sub(c.openedAt) < c.resetAfter {
			c.mu.Unlock()
			return ErrCircuitOpen
		}
		c.transition(BreakerOpen, circuitHalfOpen)
	case circuitHalfOpen:
		if c.halfOpenFlight {
			c.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	if c.state == circuitHalfOpen {
		c.halfOpenFlight = true
	}
	c.mu.Unlock()

	err := fn()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == circuitHalfOpen {
		c.halfOpenFlight = false
	}

	if err == nil {
		c.transition(c.status(), circuitClosed)
		c.failures = 0
		return nil
	}

	if c.state == circuitHalfOpen {
		c.transition(BreakerHalfOpen, circuitOpen)
		c.openedAt = now
		c.failures = 0
		return err
	}

	c.failures++
	if c.failures >= c.maxFails {
		c.transition(BreakerClosed, circuitOpen)
		c.openedAt = now
	}
	return err
}
