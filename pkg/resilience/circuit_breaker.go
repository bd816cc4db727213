package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/toolmesh/toolmesh/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, calls are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, calls are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, a bounded number of probe calls are allowed
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// MarshalJSON encodes the state as its string form
func (s CircuitState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// maxStateChanges bounds the retained transition history per breaker
const maxStateChanges = 10

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name of the circuit breaker for logging/metrics
	Name string
	// FailureThreshold is the number of consecutive failures in the closed
	// state before the circuit opens
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes in the half-open
	// state before the circuit closes
	SuccessThreshold int
	// Timeout is the period of the open state after which the next call is
	// admitted as a half-open probe
	Timeout time.Duration
	// HalfOpenMaxCalls is the maximum number of concurrent probe calls
	// admitted while half-open
	HalfOpenMaxCalls int
	// SlowCallThreshold is the duration above which a call is counted as slow.
	// Slow calls are tracked in stats only and never drive transitions.
	SlowCallThreshold time.Duration
	// OnStateChange is called whenever the state of the circuit breaker changes
	OnStateChange func(name string, from, to CircuitState, reason string)
}

// DefaultCircuitBreakerConfig returns a circuit breaker configuration with
// sensible defaults for the given name
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:              name,
		FailureThreshold:  5,
		SuccessThreshold:  2,
		Timeout:           30 * time.Second,
		HalfOpenMaxCalls:  2,
		SlowCallThreshold: 5 * time.Second,
	}
}

// StateChange records a single circuit breaker transition
type StateChange struct {
	From      CircuitState `json:"from"`
	To        CircuitState `json:"to"`
	Timestamp time.Time    `json:"timestamp"`
	Reason    string       `json:"reason"`
}

// CircuitBreakerStats is a read-only snapshot of a breaker's counters and
// its most recent state transitions
type CircuitBreakerStats struct {
	Name            string        `json:"name"`
	State           CircuitState  `json:"state"`
	TotalCalls      uint64        `json:"total_calls"`
	SuccessfulCalls uint64        `json:"successful_calls"`
	FailedCalls     uint64        `json:"failed_calls"`
	SlowCalls       uint64        `json:"slow_calls"`
	RejectedCalls   uint64        `json:"rejected_calls"`
	SuccessRate     float64       `json:"success_rate"`
	FailureCount    int           `json:"failure_count"`
	SuccessCount    int           `json:"success_count"`
	LastFailureTime time.Time     `json:"last_failure_time"`
	LastSuccessTime time.Time     `json:"last_success_time"`
	StateChanges    []StateChange `json:"state_changes"`
}

type breakerCounters struct {
	totalCalls      uint64
	successfulCalls uint64
	failedCalls     uint64
	slowCalls       uint64
	rejectedCalls   uint64
}

// CircuitBreaker guards calls to a single named service. It is used as a
// scoped guard: Enter admits or rejects a call, Exit records the outcome.
// All state mutation happens under the breaker's mutex.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig

	mutex           sync.Mutex
	state           CircuitState
	failureCount    int
	successCount    int
	halfOpenCalls   int
	lastFailureTime time.Time
	lastSuccessTime time.Time
	counters        breakerCounters
	stateChanges    []StateChange

	logger *logging.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 2
	}

	return &CircuitBreaker{
		name:   config.Name,
		config: config,
		state:  StateClosed,
		logger: logging.GetLogger(),
	}
}

// Enter requests admission for one call. It returns nil when the call may
// proceed and a *CircuitOpenError when the circuit rejects it. Every
// admitted call must be paired with exactly one Exit.
func (cb *CircuitBreaker) Enter() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()

	switch cb.state {
	case StateOpen:
		elapsed := now.Sub(cb.lastFailureTime)
		if elapsed < cb.config.Timeout {
			cb.counters.rejectedCalls++
			return &CircuitOpenError{
				Name:       cb.name,
				State:      StateOpen,
				RetryAfter: cb.config.Timeout - elapsed,
			}
		}
		// Cool-down expired, admit this call as the first probe
		cb.setState(StateHalfOpen, now, "open timeout elapsed")
		cb.halfOpenCalls = 1
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.config.HalfOpenMaxCalls {
			cb.counters.rejectedCalls++
			return &CircuitOpenError{
				Name:  cb.name,
				State: StateHalfOpen,
			}
		}
		cb.halfOpenCalls++
	}

	cb.counters.totalCalls++
	return nil
}

// Exit records the outcome of an admitted call. A nil error counts as
// success, anything else as failure. The duration is the wall time of the
// guarded call and feeds the slow-call counter.
func (cb *CircuitBreaker) Exit(err error, duration time.Duration) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()

	if cb.config.SlowCallThreshold > 0 && duration > cb.config.SlowCallThreshold {
		cb.counters.slowCalls++
		cb.logger.Warn("Slow call recorded",
			"name", cb.name,
			"duration", duration.String(),
			"threshold", cb.config.SlowCallThreshold.String(),
		)
	}

	if cb.state == StateHalfOpen && cb.halfOpenCalls > 0 {
		cb.halfOpenCalls--
	}

	if err == nil {
		cb.onSuccess(now)
	} else {
		cb.onFailure(now)
	}
}

func (cb *CircuitBreaker) onSuccess(now time.Time) {
	cb.counters.successfulCalls++
	cb.lastSuccessTime = now

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.setState(StateClosed, now, "success threshold reached")
		}
	}
}

func (cb *CircuitBreaker) onFailure(now time.Time) {
	cb.counters.failedCalls++
	cb.lastFailureTime = now

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		cb.logger.Warn("Circuit breaker recorded failure",
			"name", cb.name,
			"failure_count", cb.failureCount,
			"failure_threshold", cb.config.FailureThreshold,
		)
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.setState(StateOpen, now, "failure threshold reached")
		}
	case StateHalfOpen:
		// A single probe failure reopens the circuit
		cb.setState(StateOpen, now, "probe failed")
	}
}

// setState must be called with the mutex held
func (cb *CircuitBreaker) setState(state CircuitState, now time.Time, reason string) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state

	switch state {
	case StateClosed:
		cb.failureCount = 0
		cb.successCount = 0
		cb.halfOpenCalls = 0
	case StateHalfOpen:
		cb.successCount = 0
		cb.halfOpenCalls = 0
	case StateOpen:
		cb.successCount = 0
		cb.halfOpenCalls = 0
	}

	cb.stateChanges = append(cb.stateChanges, StateChange{
		From:      prev,
		To:        state,
		Timestamp: now,
		Reason:    reason,
	})
	if len(cb.stateChanges) > maxStateChanges {
		cb.stateChanges = cb.stateChanges[len(cb.stateChanges)-maxStateChanges:]
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state, reason)
	}

	cb.logger.Info("Circuit breaker state changed",
		"name", cb.name,
		"from", prev.String(),
		"to", state.String(),
		"reason", reason,
	)
}

// Execute runs the given call under the breaker's guard
func (cb *CircuitBreaker) Execute(ctx context.Context, req func(context.Context) (interface{}, error)) (interface{}, error) {
	if err := cb.Enter(); err != nil {
		return nil, err
	}

	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			cb.Exit(fmt.Errorf("panic: %v", r), time.Since(start))
			panic(r)
		}
	}()

	result, err := req(ctx)
	cb.Exit(err, time.Since(start))
	return result, err
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return cb.state
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// GetStats returns a read-only snapshot of the breaker's counters and the
// most recent state transitions
func (cb *CircuitBreaker) GetStats() *CircuitBreakerStats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	var successRate float64
	if cb.counters.totalCalls > 0 {
		successRate = float64(cb.counters.successfulCalls) / float64(cb.counters.totalCalls)
	}

	changes := make([]StateChange, len(cb.stateChanges))
	copy(changes, cb.stateChanges)

	return &CircuitBreakerStats{
		Name:            cb.name,
		State:           cb.state,
		TotalCalls:      cb.counters.totalCalls,
		SuccessfulCalls: cb.counters.successfulCalls,
		FailedCalls:     cb.counters.failedCalls,
		SlowCalls:       cb.counters.slowCalls,
		RejectedCalls:   cb.counters.rejectedCalls,
		SuccessRate:     successRate,
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		LastFailureTime: cb.lastFailureTime,
		LastSuccessTime: cb.lastSuccessTime,
		StateChanges:    changes,
	}
}

// Reset forces the breaker back to the closed state with all counters
// zeroed. Operator escape hatch, never used by normal call paths.
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()
	if cb.state != StateClosed {
		cb.setState(StateClosed, now, "manual reset")
	}
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenCalls = 0
	cb.counters = breakerCounters{}
}

// CircuitOpenError signals that the breaker rejected a call without
// executing it. RetryAfter carries the remaining cool-down when the circuit
// is open; it is zero when the circuit is half-open at probe capacity.
type CircuitOpenError struct {
	Name       string
	State      CircuitState
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit breaker '%s' is %s, retry after %s", e.Name, e.State.String(), e.RetryAfter)
	}
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State.String())
}

// IsCircuitOpen checks if an error is a circuit breaker rejection
func IsCircuitOpen(err error) bool {
	var cbErr *CircuitOpenError
	return errors.As(err, &cbErr)
}
