package fetchkit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	// Name labels the breaker in metrics and logs.
	Name             string
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
	// IsFailure decides which errors count against the circuit. Network
	// errors, timeouts and 5xx responses do by default.
	IsFailure func(err error) bool
}

// CircuitBreaker stops sending requests after repeated failures and lets a
// few through again once RecoveryTimeout has passed.
type CircuitBreaker struct {
	mu          sync.Mutex
	config      CircuitBreakerConfig
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
	now         func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 2
	}
	if config.Name == "" {
		config.Name = "default"
	}
	if config.IsFailure == nil {
		config.IsFailure = defaultBreakerFailure
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow checks if the request should be allowed through the circuit breaker
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.config.RecoveryTimeout {
			cb.state = StateHalfOpen
			cb.successes = 0
			return true
		}
	}
	return false
}

// RecordFailure records a failure in the circuit breaker
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = cb.now()
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		// a failed probe reopens immediately
		cb.failures++
		cb.state = StateOpen
		cb.successes = 0
	}
}

// RecordSuccess records a success in the circuit breaker
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

func defaultBreakerFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Type {
	case ErrorTypeNetwork, ErrorTypeTimeout:
		return true
	case ErrorTypeHTTP:
		return e.Status() >= 500
	}
	return false
}

// CircuitBreakerPlugin guards the adapter with a breaker. While the circuit
// is open calls fail at once with an error wrapping ErrCircuitOpen.
func CircuitBreakerPlugin(config CircuitBreakerConfig) Plugin {
	cb := NewCircuitBreaker(config)
	return cb.Plugin()
}

// Plugin returns a plugin bound to cb, so callers can keep the breaker to
// inspect its state.
func (cb *CircuitBreaker) Plugin() Plugin {
	return func(next Adapter, c *Client) Adapter {
		return func(ctx context.Context, cfg *Config) (*Response, error) {
			if !cb.Allow() {
				c.logPlugin("Circuit open, rejecting request", "requestID", cfg.RequestID(), "breaker", cb.config.Name)
				return nil, &Error{
					Type:      ErrorTypeCircuitOpen,
					Message:   "circuit breaker is open",
					Config:    cfg,
					Cause:     ErrCircuitOpen,
					RequestID: cfg.RequestID(),
				}
			}

			resp, err := next(ctx, cfg)
			if err != nil && cb.config.IsFailure(unwrapIntercepted(err)) {
				cb.RecordFailure()
			} else if err == nil {
				cb.RecordSuccess()
			}
			c.metrics.RecordCircuitBreakerState(cb.config.Name, cb.State())
			return resp, err
		}
	}
}
