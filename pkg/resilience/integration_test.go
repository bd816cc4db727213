package resilience

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/toolmesh/toolmesh/pkg/errors"
)

// mockToolService simulates a mesh service that can be forced to fail
type mockToolService struct {
	name         string
	mutex        sync.Mutex
	requestCount int
	failureCount int
	forceFailure bool
	failEvery    int // deterministic failure pattern, 0 disables it
}

func newMockToolService(name string) *mockToolService {
	return &mockToolService{name: name}
}

func (m *mockToolService) call(ctx context.Context) (interface{}, error) {
	m.mutex.Lock()
	m.requestCount++
	n := m.requestCount
	shouldFail := m.forceFailure || (m.failEvery > 0 && n%m.failEvery == 0)
	if shouldFail {
		m.failureCount++
	}
	m.mutex.Unlock()

	if shouldFail {
		return nil, appErrors.NewUnavailableError(m.name, fmt.Sprintf("simulated failure for request %d", n))
	}
	return fmt.Sprintf("response-%s-%d", m.name, n), nil
}

func (m *mockToolService) setForceFailure(force bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.forceFailure = force
}

func (m *mockToolService) stats() (int, int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.requestCount, m.failureCount
}

// TestIntegration_ResilientCallWorkflow walks a service through failure,
// fallback, and recovery with all the pieces wired together.
func TestIntegration_ResilientCallWorkflow(t *testing.T) {
	alertManager := NewAlertManager()
	alertHandler := &mockAlertHandler{name: "integration-test"}
	alertManager.AddHandler(alertHandler)

	errorAlertGenerator := NewErrorAlertGenerator(alertManager)

	degradationManager := NewDegradationManager()
	degradationManager.RegisterService("payments", LevelPartial)
	degradationManager.RegisterService("payments-replica", LevelNormal)
	degradationManager.RegisterService("inventory", LevelNormal)
	degradationManager.RegisterService("shipping", LevelNormal)

	services := map[string]*mockToolService{
		"payments":         newMockToolService("payments"),
		"payments-replica": newMockToolService("payments-replica"),
	}

	rm := NewResilienceManager(ManagerConfig{
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 3,
			SuccessThreshold: 2,
			Timeout:          200 * time.Millisecond,
			HalfOpenMaxCalls: 2,
		},
		Retry: RetryConfig{
			MaxAttempts:       2,
			InitialDelay:      5 * time.Millisecond,
			MaxDelay:          20 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
	})

	op := func(ctx context.Context, serviceName string) (interface{}, error) {
		service, ok := services[serviceName]
		if !ok {
			return nil, appErrors.NewNotFoundError(serviceName)
		}
		return service.call(ctx)
	}

	ctx := context.Background()

	t.Run("Phase1_NormalOperation", func(t *testing.T) {
		result, err := rm.CallWithResilience(ctx, "payments", op, nil)
		require.NoError(t, err)
		assert.Contains(t, result.(string), "response-payments")

		degradationManager.UpdateServiceHealth("payments", true, 20*time.Millisecond, "OK")
		assert.Equal(t, LevelNormal, degradationManager.GetCurrentDegradationLevel())
		assert.Equal(t, StateClosed, rm.GetCircuitBreaker("payments").State())
	})

	t.Run("Phase2_ServiceFailure", func(t *testing.T) {
		services["payments"].setForceFailure(true)

		for i := 0; i < 5; i++ {
			_, err := rm.CallWithResilience(ctx, "payments", op, nil)
			require.Error(t, err)

			errorAlertGenerator.HandleError(ctx, err, "payments", map[string]interface{}{
				"attempt": i + 1,
			})
			degradationManager.UpdateServiceHealth("payments", false, 500*time.Millisecond, err.Error())
		}

		// Three consecutive failures tripped the breaker; the remaining
		// calls were rejected without touching the service.
		assert.Equal(t, StateOpen, rm.GetCircuitBreaker("payments").State())

		stats, err := rm.GetStats("payments")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), stats.RejectedCalls)

		assert.Equal(t, LevelPartial, degradationManager.GetCurrentDegradationLevel())
		assert.NotEmpty(t, alertHandler.getAlerts())
	})

	t.Run("Phase3_FallbackTakesOver", func(t *testing.T) {
		requestsBefore, _ := services["payments"].stats()

		result, err := rm.CallWithResilience(ctx, "payments", op, &CallOptions{
			Fallbacks: []string{"payments-replica"},
		})
		require.NoError(t, err)
		assert.Contains(t, result.(string), "response-payments-replica")

		// The open breaker kept the primary untouched
		requestsAfter, _ := services["payments"].stats()
		assert.Equal(t, requestsBefore, requestsAfter)
	})

	t.Run("Phase4_Recovery", func(t *testing.T) {
		services["payments"].setForceFailure(false)

		// Wait out the breaker cool-down
		time.Sleep(250 * time.Millisecond)

		for i := 0; i < 2; i++ {
			result, err := rm.CallWithResilience(ctx, "payments", op, nil)
			require.NoError(t, err)
			assert.Contains(t, result.(string), "response-payments")
		}

		assert.Equal(t, StateClosed, rm.GetCircuitBreaker("payments").State())

		degradationManager.UpdateServiceHealth("payments", true, 20*time.Millisecond, "Recovered")
		assert.Equal(t, LevelNormal, degradationManager.GetCurrentDegradationLevel())
	})

	t.Run("VerifyAlerts", func(t *testing.T) {
		alerts := alertHandler.getAlerts()
		assert.NotEmpty(t, alerts)

		hasUnavailableAlert := false
		hasCircuitAlert := false
		for _, alert := range alerts {
			if alert.Tags["error_type"] == "unavailable" {
				hasUnavailableAlert = true
			}
			if alert.Tags["circuit_breaker"] == "true" {
				hasCircuitAlert = true
			}
		}
		assert.True(t, hasUnavailableAlert, "Should have service unavailable alerts")
		assert.True(t, hasCircuitAlert, "Should have circuit breaker rejection alerts")
	})
}

// TestIntegration_ConcurrentCalls exercises the manager under concurrent load
func TestIntegration_ConcurrentCalls(t *testing.T) {
	service := newMockToolService("concurrent-test")
	service.failEvery = 7

	rm := NewResilienceManager(ManagerConfig{
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          50 * time.Millisecond,
			HalfOpenMaxCalls: 3,
		},
		Retry: RetryConfig{
			MaxAttempts:       1,
			InitialDelay:      time.Millisecond,
			MaxDelay:          5 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
	})

	op := func(ctx context.Context, serviceName string) (interface{}, error) {
		return service.call(ctx)
	}

	const numGoroutines = 20
	const requestsPerGoroutine = 25

	var wg sync.WaitGroup
	var mutex sync.Mutex
	successCount := 0
	errorCount := 0

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()

			for j := 0; j < requestsPerGoroutine; j++ {
				_, err := rm.CallWithResilience(ctx, "concurrent-test", op, &CallOptions{
					DisableDedup: true,
				})

				mutex.Lock()
				if err != nil {
					errorCount++
				} else {
					successCount++
				}
				mutex.Unlock()

				time.Sleep(time.Millisecond)
			}
		}(i)
	}

	wg.Wait()

	totalRequests := numGoroutines * requestsPerGoroutine
	t.Logf("Total requests: %d, Successes: %d, Errors: %d", totalRequests, successCount, errorCount)
	t.Logf("Circuit breaker state: %s", rm.GetCircuitBreaker("concurrent-test").State())

	serviceRequests, serviceFailures := service.stats()
	t.Logf("Service stats - Requests: %d, Failures: %d", serviceRequests, serviceFailures)

	assert.Equal(t, totalRequests, successCount+errorCount)
	assert.Greater(t, successCount, 0, "Should have some successful requests")

	stats, err := rm.GetStats("concurrent-test")
	require.NoError(t, err)
	assert.Equal(t, stats.TotalCalls, stats.SuccessfulCalls+stats.FailedCalls)
}

// TestIntegration_GracefulDegradation tests the complete degradation workflow
func TestIntegration_GracefulDegradation(t *testing.T) {
	alertManager := NewAlertManager()
	alertHandler := &mockAlertHandler{name: "degradation-test"}
	alertManager.AddHandler(alertHandler)

	degradationManager := NewDegradationManager()
	healthMonitor := NewSystemHealthMonitor(alertManager, degradationManager)
	healthMonitor.checkInterval = 10 * time.Millisecond

	// Register critical and non-critical services
	criticalServices := []string{"discovery", "registry-store"}
	nonCriticalServices := []string{"catalog-cache", "metrics"}

	for _, service := range criticalServices {
		degradationManager.RegisterService(service, LevelCritical)
	}
	for _, service := range nonCriticalServices {
		degradationManager.RegisterService(service, LevelPartial)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	healthMonitor.Start(ctx)
	defer healthMonitor.Stop()

	// Phase 1: All services healthy
	assert.Equal(t, LevelNormal, degradationManager.GetCurrentDegradationLevel())

	// Phase 2: Non-critical service fails
	for i := 0; i < 3; i++ {
		degradationManager.UpdateServiceHealth("catalog-cache", false, 0, "Cache connection failed")
	}
	time.Sleep(50 * time.Millisecond) // Allow monitor to detect

	assert.Equal(t, LevelPartial, degradationManager.GetCurrentDegradationLevel())

	// Phase 3: Critical service fails
	for i := 0; i < 3; i++ {
		degradationManager.UpdateServiceHealth("discovery", false, 0, "Discovery endpoint down")
	}
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, LevelCritical, degradationManager.GetCurrentDegradationLevel())

	// Phase 4: Recovery
	degradationManager.UpdateServiceHealth("discovery", true, 100*time.Millisecond, "Discovery recovered")
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, LevelPartial, degradationManager.GetCurrentDegradationLevel())

	degradationManager.UpdateServiceHealth("catalog-cache", true, 50*time.Millisecond, "Cache reconnected")
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, LevelNormal, degradationManager.GetCurrentDegradationLevel())

	// Verify alerts were generated
	alerts := alertHandler.getAlerts()
	assert.NotEmpty(t, alerts)

	// Check for degradation level change alerts
	foundDegradationAlerts := 0
	for _, alert := range alerts {
		if alert.Title == "Mesh Degradation Level Changed" {
			foundDegradationAlerts++
		}
	}
	assert.Greater(t, foundDegradationAlerts, 0, "Should have received degradation level change alerts")
}
