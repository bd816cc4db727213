// Package resilience provides circuit breaking, retry with exponential
// backoff, ordered fallback chains, and in-flight request deduplication
// for calls to mesh services.
//
// This package implements the following patterns:
//
// # Circuit Breaker Pattern
//
// Each named service gets a circuit breaker that opens after a run of
// consecutive failures and admits a bounded number of probe calls once its
// cool-down has elapsed. The breaker is a scoped guard: Enter admits or
// rejects a call, Exit records the outcome.
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//		Name:             "payments",
//		FailureThreshold: 5,
//		SuccessThreshold: 2,
//		Timeout:          30 * time.Second,
//		HalfOpenMaxCalls: 2,
//	})
//
//	result, err := cb.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return paymentsClient.Call(ctx, req)
//	})
//
// # Retry with Exponential Backoff
//
// The retry mechanism automatically retries transient failures with
// exponential backoff and jitter to avoid thundering herd problems.
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryConfig())
//	err := retrier.Execute(ctx, func(ctx context.Context) error {
//		return riskyOperation(ctx)
//	})
//
// # Resilient Calls with Fallbacks and Deduplication
//
// ResilienceManager ties the patterns together. It keeps one breaker per
// service name, walks an ordered fallback chain when the primary fails,
// and coalesces concurrent identical requests into a single execution.
//
//	rm := resilience.NewResilienceManager(resilience.ManagerConfig{})
//	result, err := rm.CallWithResilience(ctx, "payments", op, &resilience.CallOptions{
//		Fallbacks: []string{"payments-replica"},
//		Args:      req,
//	})
//
// # Graceful Degradation
//
// The degradation system aggregates per-service health into a mesh-wide
// degradation level that operational endpoints can expose.
//
//	dm := resilience.NewDegradationManager()
//	dm.RegisterService("payments", resilience.LevelCritical)
//
//	// Update service health
//	dm.UpdateServiceHealth("payments", false, 500*time.Millisecond, "Service down")
//
//	// Check current degradation level
//	level := dm.GetCurrentDegradationLevel()
//
// # Alerting
//
// The alerting system generates and routes alerts from error patterns,
// circuit breaker transitions, and health changes.
//
//	am := resilience.NewAlertManager()
//	am.AddHandler(resilience.NewLoggingAlertHandler())
//
//	alerter := resilience.NewCircuitStateAlerter(am)
//	cfg := resilience.DefaultCircuitBreakerConfig("payments")
//	cfg.OnStateChange = alerter.OnStateChange
//
// The package is designed to be thread-safe and can handle high-concurrency
// scenarios typical in service meshes.
package resilience
