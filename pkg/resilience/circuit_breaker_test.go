package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
		HalfOpenMaxCalls: 2,
	}
}

// tripBreaker drives the breaker from closed to open with consecutive failures
func tripBreaker(t *testing.T, cb *CircuitBreaker, failures int) {
	t.Helper()
	for i := 0; i < failures; i++ {
		require.NoError(t, cb.Enter())
		cb.Exit(errors.New("boom"), time.Millisecond)
	}
	require.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig("test-cb"))

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, "test-cb", cb.Name())

	stats := cb.GetStats()
	assert.Equal(t, uint64(0), stats.TotalCalls)
	assert.Equal(t, uint64(0), stats.RejectedCalls)
	assert.Empty(t, stats.StateChanges)
}

func TestNewCircuitBreaker_FillsDefaults(t *testing.T) {
	// Zero-valued thresholds must not produce a breaker that opens
	// immediately or never admits probes.
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "defaults"})

	require.NoError(t, cb.Enter())
	cb.Exit(errors.New("boom"), time.Millisecond)
	assert.Equal(t, StateClosed, cb.State())
}

func TestDefaultCircuitBreakerConfig(t *testing.T) {
	config := DefaultCircuitBreakerConfig("payments")

	assert.Equal(t, "payments", config.Name)
	assert.Equal(t, 5, config.FailureThreshold)
	assert.Equal(t, 2, config.SuccessThreshold)
	assert.Equal(t, 30*time.Second, config.Timeout)
	assert.Equal(t, 2, config.HalfOpenMaxCalls)
	assert.Equal(t, 5*time.Second, config.SlowCallThreshold)
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig("open-test"))

	// Two failures are below the threshold
	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Enter())
		cb.Exit(errors.New("boom"), time.Millisecond)
		assert.Equal(t, StateClosed, cb.State())
	}

	// Third consecutive failure opens the circuit
	require.NoError(t, cb.Enter())
	cb.Exit(errors.New("boom"), time.Millisecond)
	assert.Equal(t, StateOpen, cb.State())

	// The next call is rejected without executing anything
	err := cb.Enter()
	require.Error(t, err)

	var cbErr *CircuitOpenError
	require.ErrorAs(t, err, &cbErr)
	assert.Equal(t, "open-test", cbErr.Name)
	assert.Equal(t, StateOpen, cbErr.State)
	assert.Greater(t, cbErr.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, cbErr.RetryAfter, 50*time.Millisecond)
	assert.Contains(t, err.Error(), "retry after")

	stats := cb.GetStats()
	assert.Equal(t, uint64(3), stats.TotalCalls)
	assert.Equal(t, uint64(3), stats.FailedCalls)
	assert.Equal(t, uint64(1), stats.RejectedCalls)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig("reset-count"))

	// Two failures, then a success, then two more failures: the run is
	// broken, so the circuit stays closed.
	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Enter())
		cb.Exit(errors.New("boom"), time.Millisecond)
	}

	require.NoError(t, cb.Enter())
	cb.Exit(nil, time.Millisecond)

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Enter())
		cb.Exit(errors.New("boom"), time.Millisecond)
	}
	assert.Equal(t, StateClosed, cb.State())

	// One more failure completes a new run of three
	require.NoError(t, cb.Enter())
	cb.Exit(errors.New("boom"), time.Millisecond)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig("half-open"))
	tripBreaker(t, cb, 3)

	// Wait for the open timeout to elapse
	time.Sleep(80 * time.Millisecond)

	// The first call after the timeout is admitted as a probe
	require.NoError(t, cb.Enter())
	assert.Equal(t, StateHalfOpen, cb.State())
	cb.Exit(nil, time.Millisecond)
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig("probe-fail"))
	tripBreaker(t, cb, 3)

	time.Sleep(80 * time.Millisecond)

	require.NoError(t, cb.Enter())
	require.Equal(t, StateHalfOpen, cb.State())

	// A single probe failure reopens the circuit
	cb.Exit(errors.New("still broken"), time.Millisecond)
	assert.Equal(t, StateOpen, cb.State())

	// And the cool-down starts over
	err := cb.Enter()
	require.Error(t, err)
	assert.True(t, IsCircuitOpen(err))
}

func TestCircuitBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig("recovery"))
	tripBreaker(t, cb, 3)

	time.Sleep(80 * time.Millisecond)

	// First probe succeeds, circuit stays half-open
	require.NoError(t, cb.Enter())
	cb.Exit(nil, time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	// Second consecutive success closes the circuit
	require.NoError(t, cb.Enter())
	cb.Exit(nil, time.Millisecond)
	assert.Equal(t, StateClosed, cb.State())

	// The closed state starts with a clean failure count
	stats := cb.GetStats()
	assert.Equal(t, 0, stats.FailureCount)
}

func TestCircuitBreaker_HalfOpenConcurrencyLimit(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig("probe-limit"))
	tripBreaker(t, cb, 3)

	time.Sleep(80 * time.Millisecond)

	// Two probes may be in flight at once
	require.NoError(t, cb.Enter())
	require.NoError(t, cb.Enter())
	assert.Equal(t, StateHalfOpen, cb.State())

	// The third concurrent probe is rejected with no retry hint
	err := cb.Enter()
	require.Error(t, err)

	var cbErr *CircuitOpenError
	require.ErrorAs(t, err, &cbErr)
	assert.Equal(t, StateHalfOpen, cbErr.State)
	assert.Equal(t, time.Duration(0), cbErr.RetryAfter)

	// Finishing one probe frees a slot
	cb.Exit(nil, time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Enter())

	cb.Exit(nil, time.Millisecond)
	assert.Equal(t, StateClosed, cb.State())
	cb.Exit(nil, time.Millisecond)
}

func TestCircuitBreaker_Execute(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig("execute"))

	result, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "success", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "success", result)

	_, err = cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)

	stats := cb.GetStats()
	assert.Equal(t, uint64(2), stats.TotalCalls)
	assert.Equal(t, uint64(1), stats.SuccessfulCalls)
	assert.Equal(t, uint64(1), stats.FailedCalls)
}

func TestCircuitBreaker_ExecutePanicCountsAsFailure(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig("panic"))

	assert.Panics(t, func() {
		cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			panic("test panic")
		})
	})

	stats := cb.GetStats()
	assert.Equal(t, uint64(1), stats.FailedCalls)
	assert.Equal(t, 1, stats.FailureCount)
}

func TestCircuitBreaker_SlowCallsTracked(t *testing.T) {
	config := testBreakerConfig("slow-calls")
	config.SlowCallThreshold = 10 * time.Millisecond
	cb := NewCircuitBreaker(config)

	// Slow successes are counted but never open the circuit
	for i := 0; i < 5; i++ {
		require.NoError(t, cb.Enter())
		cb.Exit(nil, 50*time.Millisecond)
	}

	stats := cb.GetStats()
	assert.Equal(t, uint64(5), stats.SlowCalls)
	assert.Equal(t, StateClosed, stats.State)
}

func TestCircuitBreaker_StateChangeHistoryBounded(t *testing.T) {
	config := CircuitBreakerConfig{
		Name:             "history",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          5 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	}
	cb := NewCircuitBreaker(config)

	// Each cycle produces three transitions: closed->open,
	// open->half-open, half-open->closed.
	for i := 0; i < 5; i++ {
		require.NoError(t, cb.Enter())
		cb.Exit(errors.New("boom"), time.Millisecond)
		require.Equal(t, StateOpen, cb.State())

		time.Sleep(10 * time.Millisecond)

		require.NoError(t, cb.Enter())
		cb.Exit(nil, time.Millisecond)
		require.Equal(t, StateClosed, cb.State())
	}

	stats := cb.GetStats()
	assert.Len(t, stats.StateChanges, maxStateChanges)

	// The retained entries are the most recent ones
	last := stats.StateChanges[len(stats.StateChanges)-1]
	assert.Equal(t, StateHalfOpen, last.From)
	assert.Equal(t, StateClosed, last.To)
	assert.Equal(t, "success threshold reached", last.Reason)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig("reset"))
	tripBreaker(t, cb, 3)

	// Rejected call to accumulate a rejected counter
	require.Error(t, cb.Enter())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())

	stats := cb.GetStats()
	assert.Equal(t, uint64(0), stats.TotalCalls)
	assert.Equal(t, uint64(0), stats.FailedCalls)
	assert.Equal(t, uint64(0), stats.RejectedCalls)
	assert.Equal(t, 0, stats.FailureCount)

	// The transition history is retained, ending with the manual reset
	require.NotEmpty(t, stats.StateChanges)
	last := stats.StateChanges[len(stats.StateChanges)-1]
	assert.Equal(t, StateOpen, last.From)
	assert.Equal(t, StateClosed, last.To)
	assert.Equal(t, "manual reset", last.Reason)

	// Resetting an already-closed breaker records no new transition
	historyLen := len(stats.StateChanges)
	cb.Reset()
	assert.Len(t, cb.GetStats().StateChanges, historyLen)
}

func TestCircuitBreaker_GetStats_SuccessRate(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig("success-rate"))

	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Enter())
		cb.Exit(nil, time.Millisecond)
	}
	require.NoError(t, cb.Enter())
	cb.Exit(errors.New("boom"), time.Millisecond)

	stats := cb.GetStats()
	assert.Equal(t, uint64(4), stats.TotalCalls)
	assert.Equal(t, uint64(3), stats.SuccessfulCalls)
	assert.InDelta(t, 0.75, stats.SuccessRate, 0.001)
	assert.False(t, stats.LastSuccessTime.IsZero())
	assert.False(t, stats.LastFailureTime.IsZero())
}

func TestCircuitBreaker_OnStateChangeCallback(t *testing.T) {
	type transition struct {
		name   string
		from   CircuitState
		to     CircuitState
		reason string
	}

	var mu sync.Mutex
	var transitions []transition

	config := testBreakerConfig("callback")
	config.OnStateChange = func(name string, from, to CircuitState, reason string) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, transition{name, from, to, reason})
	}
	cb := NewCircuitBreaker(config)

	tripBreaker(t, cb, 3)
	time.Sleep(80 * time.Millisecond)

	require.NoError(t, cb.Enter())
	cb.Exit(nil, time.Millisecond)
	require.NoError(t, cb.Enter())
	cb.Exit(nil, time.Millisecond)
	require.Equal(t, StateClosed, cb.State())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, transitions, 3)

	assert.Equal(t, "callback", transitions[0].name)
	assert.Equal(t, StateClosed, transitions[0].from)
	assert.Equal(t, StateOpen, transitions[0].to)
	assert.Equal(t, "failure threshold reached", transitions[0].reason)

	assert.Equal(t, StateOpen, transitions[1].from)
	assert.Equal(t, StateHalfOpen, transitions[1].to)
	assert.Equal(t, "open timeout elapsed", transitions[1].reason)

	assert.Equal(t, StateHalfOpen, transitions[2].from)
	assert.Equal(t, StateClosed, transitions[2].to)
	assert.Equal(t, "success threshold reached", transitions[2].reason)
}

func TestCircuitBreaker_ConcurrentCalls(t *testing.T) {
	config := testBreakerConfig("concurrent")
	config.FailureThreshold = 1000 // keep the circuit closed for this test
	cb := NewCircuitBreaker(config)

	const goroutines = 20
	const callsPerGoroutine = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				if err := cb.Enter(); err != nil {
					continue
				}
				if j%2 == 0 {
					cb.Exit(nil, time.Millisecond)
				} else {
					cb.Exit(errors.New("boom"), time.Millisecond)
				}
			}
		}(i)
	}
	wg.Wait()

	stats := cb.GetStats()
	assert.Equal(t, uint64(goroutines*callsPerGoroutine), stats.TotalCalls)
	assert.Equal(t, stats.TotalCalls, stats.SuccessfulCalls+stats.FailedCalls)
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state    CircuitState
		expected string
	}{
		{StateClosed, "CLOSED"},
		{StateOpen, "OPEN"},
		{StateHalfOpen, "HALF_OPEN"},
		{CircuitState(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestIsCircuitOpen(t *testing.T) {
	cbErr := &CircuitOpenError{Name: "test", State: StateOpen, RetryAfter: time.Second}

	assert.True(t, IsCircuitOpen(cbErr))
	assert.True(t, IsCircuitOpen(fmt.Errorf("call failed: %w", cbErr)))
	assert.False(t, IsCircuitOpen(errors.New("other error")))
	assert.False(t, IsCircuitOpen(nil))
}

func TestCircuitOpenError_Message(t *testing.T) {
	withRetry := &CircuitOpenError{Name: "payments", State: StateOpen, RetryAfter: 5 * time.Second}
	assert.Contains(t, withRetry.Error(), "payments")
	assert.Contains(t, withRetry.Error(), "OPEN")
	assert.Contains(t, withRetry.Error(), "retry after 5s")

	atCapacity := &CircuitOpenError{Name: "payments", State: StateHalfOpen}
	assert.Contains(t, atCapacity.Error(), "HALF_OPEN")
	assert.NotContains(t, atCapacity.Error(), "retry after")
}
