package resilience

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/toolmesh/toolmesh/pkg/errors"
	"github.com/toolmesh/toolmesh/pkg/logging"
	"github.com/toolmesh/toolmesh/pkg/metrics"
	"github.com/toolmesh/toolmesh/pkg/tracing"
)

// Operation is the unit of work guarded by a circuit breaker. The manager
// passes in the service name it settled on (the primary or one of the
// fallbacks) so the operation can route accordingly.
type Operation func(ctx context.Context, serviceName string) (interface{}, error)

// CallOptions controls fallback, retry, and deduplication for a single call
type CallOptions struct {
	// Fallbacks are alternate service names tried strictly in order after
	// the primary fails. Each fallback gets its own circuit breaker and a
	// fresh retry budget.
	Fallbacks []string
	// Retry overrides the manager's default retry configuration
	Retry *RetryConfig
	// Args identify the request for deduplication. Calls with the same
	// service name and equal args share one execution while it is pending.
	Args interface{}
	// DisableDedup opts this call out of in-flight deduplication
	DisableDedup bool
}

// ManagerConfig holds configuration for a ResilienceManager
type ManagerConfig struct {
	// CircuitBreaker is the template applied to every breaker the manager
	// creates. The Name field is filled in per service.
	CircuitBreaker CircuitBreakerConfig
	// Retry is the default retry configuration for calls
	Retry RetryConfig
	// Metrics receives call, retry, fallback, and breaker observations.
	// Optional; nil disables recording.
	Metrics *metrics.Metrics
}

// inflightCall is the shared result cell for deduplicated callers. The done
// channel is closed exactly once, after result and err are set.
type inflightCall struct {
	done   chan struct{}
	result interface{}
	err    error
}

// ResilienceManager coordinates circuit breakers, retries, ordered fallback
// chains, and in-flight request deduplication across named services.
type ResilienceManager struct {
	breakerTemplate CircuitBreakerConfig
	retryConfig     RetryConfig

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	inflightMu sync.Mutex
	inflight   map[string]*inflightCall

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewResilienceManager creates a new resilience manager
func NewResilienceManager(config ManagerConfig) *ResilienceManager {
	retry := config.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryConfig()
	}

	return &ResilienceManager{
		breakerTemplate: config.CircuitBreaker,
		retryConfig:     retry,
		breakers:        make(map[string]*CircuitBreaker),
		inflight:        make(map[string]*inflightCall),
		logger:          logging.GetLogger(),
		metrics:         config.Metrics,
	}
}

// GetCircuitBreaker returns the breaker for the given service, creating it
// on first reference. A breaker, once created, lives for the lifetime of
// the manager and is never replaced.
func (rm *ResilienceManager) GetCircuitBreaker(serviceName string) *CircuitBreaker {
	rm.mu.RLock()
	cb, ok := rm.breakers[serviceName]
	rm.mu.RUnlock()
	if ok {
		return cb
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if cb, ok := rm.breakers[serviceName]; ok {
		return cb
	}

	config := rm.breakerTemplate
	config.Name = serviceName
	userHook := config.OnStateChange
	config.OnStateChange = func(name string, from, to CircuitState, reason string) {
		rm.metrics.RecordCircuitTransition(name, from.String(), to.String())
		rm.metrics.SetCircuitBreakerState(name, int(to))
		if userHook != nil {
			userHook(name, from, to, reason)
		}
	}
	cb = NewCircuitBreaker(config)
	rm.breakers[serviceName] = cb
	rm.metrics.SetCircuitBreakerState(serviceName, int(StateClosed))

	rm.logger.Debug("Circuit breaker created", "service", serviceName)
	return cb
}

// CallWithResilience executes the operation against the named service with
// circuit breaking, retries, ordered fallbacks, and deduplication. The
// caller sees either the successful result or the terminal error of the
// last service attempted.
func (rm *ResilienceManager) CallWithResilience(ctx context.Context, serviceName string, operation Operation, opts *CallOptions) (result interface{}, err error) {
	ctx, span := tracing.StartResilienceCallSpan(ctx, serviceName)
	defer func() { tracing.EndSpan(span, err) }()

	if opts == nil {
		opts = &CallOptions{}
	}

	if opts.DisableDedup {
		return rm.callChain(ctx, serviceName, operation, opts)
	}

	key := requestKey(serviceName, opts.Args)

	rm.inflightMu.Lock()
	if pending, ok := rm.inflight[key]; ok {
		rm.inflightMu.Unlock()
		rm.metrics.RecordDedupJoin(serviceName)
		rm.logger.Debug("Joining in-flight call",
			"service", serviceName,
			"key", key,
		)
		select {
		case <-pending.done:
			return pending.result, pending.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	call := &inflightCall{
		done: make(chan struct{}),
		// Overwritten on any normal completion; waiters only ever see this
		// if the executing goroutine panics out of the chain.
		err: errors.NewInternalError("resilient call aborted"),
	}
	rm.inflight[key] = call
	rm.inflightMu.Unlock()

	defer func() {
		rm.inflightMu.Lock()
		delete(rm.inflight, key)
		rm.inflightMu.Unlock()
		close(call.done)
	}()

	call.result, call.err = rm.callChain(ctx, serviceName, operation, opts)
	return call.result, call.err
}

// callChain walks the primary service and its fallbacks in order, stopping
// at the first success. Each service gets the full call procedure: breaker
// admission plus a fresh retry budget.
func (rm *ResilienceManager) callChain(ctx context.Context, serviceName string, operation Operation, opts *CallOptions) (interface{}, error) {
	retryConfig := rm.retryConfig
	if opts.Retry != nil {
		retryConfig = *opts.Retry
	}

	targets := make([]string, 0, len(opts.Fallbacks)+1)
	targets = append(targets, serviceName)
	targets = append(targets, opts.Fallbacks...)

	var lastErr error
	for i, target := range targets {
		if ctx.Err() != nil {
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			break
		}

		result, err := rm.callService(ctx, target, operation, retryConfig)
		if err == nil {
			if i > 0 {
				rm.metrics.RecordFallback(target, "success")
				rm.logger.Info("Fallback service succeeded",
					"primary", serviceName,
					"fallback", target,
					"position", i,
				)
			}
			return result, nil
		}

		lastErr = err
		if i > 0 {
			rm.metrics.RecordFallback(target, "failure")
		}
		if i < len(targets)-1 {
			rm.logger.Warn("Service call failed, trying fallback",
				"service", target,
				"next", targets[i+1],
				"error", err.Error(),
			)
		}
	}

	rm.logger.Error("All services in fallback chain failed",
		"primary", serviceName,
		"fallbacks", len(opts.Fallbacks),
		"error", lastErr.Error(),
	)

	return nil, lastErr
}

// callService runs the operation against one service under its breaker.
// Exit is called exactly once with the final outcome of the whole retry
// sequence.
func (rm *ResilienceManager) callService(ctx context.Context, serviceName string, operation Operation, retryConfig RetryConfig) (interface{}, error) {
	cb := rm.GetCircuitBreaker(serviceName)

	if err := cb.Enter(); err != nil {
		rm.metrics.RecordCircuitRejection(serviceName)
		rm.metrics.RecordResilientCall(serviceName, "rejected")
		rm.logger.Warn("Circuit breaker rejected call",
			"service", serviceName,
			"error", err.Error(),
		)
		return nil, err
	}

	userOnRetry := retryConfig.OnRetry
	retryConfig.OnRetry = func(attempt int, err error, delay time.Duration) {
		rm.metrics.RecordRetries(serviceName, 1)
		if userOnRetry != nil {
			userOnRetry(attempt, err, delay)
		}
	}

	retrier := NewRetrier(retryConfig)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			cb.Exit(fmt.Errorf("panic: %v", r), time.Since(start))
			panic(r)
		}
	}()

	var result interface{}
	err := retrier.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = operation(ctx, serviceName)
		return opErr
	})

	cb.Exit(err, time.Since(start))

	if err != nil {
		rm.metrics.RecordResilientCall(serviceName, "failure")
		return nil, err
	}
	rm.metrics.RecordResilientCall(serviceName, "success")
	return result, nil
}

// GetAllStats returns a stats snapshot for every breaker the manager has
// created, keyed by service name
func (rm *ResilienceManager) GetAllStats() map[string]*CircuitBreakerStats {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	stats := make(map[string]*CircuitBreakerStats, len(rm.breakers))
	for name, cb := range rm.breakers {
		stats[name] = cb.GetStats()
	}
	return stats
}

// GetStats returns the stats snapshot for one service's breaker
func (rm *ResilienceManager) GetStats(serviceName string) (*CircuitBreakerStats, error) {
	rm.mu.RLock()
	cb, ok := rm.breakers[serviceName]
	rm.mu.RUnlock()
	if !ok {
		return nil, errors.NewNotFoundError(fmt.Sprintf("circuit breaker for service %s", serviceName))
	}
	return cb.GetStats(), nil
}

// ResetCircuitBreaker forces an existing breaker back to the closed state
// with all counters zeroed
func (rm *ResilienceManager) ResetCircuitBreaker(serviceName string) error {
	rm.mu.RLock()
	cb, ok := rm.breakers[serviceName]
	rm.mu.RUnlock()
	if !ok {
		return errors.NewNotFoundError(fmt.Sprintf("circuit breaker for service %s", serviceName))
	}

	cb.Reset()
	rm.logger.Info("Circuit breaker manually reset", "service", serviceName)
	return nil
}

// requestKey builds the deduplication key from the service name and the
// JSON encoding of the identifying arguments
func requestKey(serviceName string, args interface{}) string {
	if args == nil {
		return serviceName
	}

	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%s|%v", serviceName, args)
	}
	return serviceName + "|" + string(encoded)
}
