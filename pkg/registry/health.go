package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/toolmesh/toolmesh/pkg/errors"
	"github.com/toolmesh/toolmesh/pkg/tracing"
)

type probeTarget struct {
	name    string
	baseURL string
}

// HealthCheck probes the named services, or every registered service when
// no names are given. Probes run concurrently, bounded by
// MaxConcurrentProbes, and each is limited to ProbeTimeout so one stuck
// service never delays the others. Probe outcomes update the stored health
// state; a probe failure is reported in the result, not as an error.
func (r *ServiceRegistry) HealthCheck(ctx context.Context, names ...string) ([]HealthCheckResult, error) {
	targets, err := r.resolveProbeTargets(names)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, nil
	}

	ctx, span := tracing.StartHealthCheckSpan(ctx, len(targets))
	defer span.End()

	var (
		wg        sync.WaitGroup
		resultsMu sync.Mutex
	)
	results := make([]HealthCheckResult, 0, len(targets))
	semaphore := make(chan struct{}, r.config.MaxConcurrentProbes)

	for _, target := range targets {
		wg.Add(1)
		go func(name, baseURL string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			result := r.probeService(ctx, name, baseURL)

			resultsMu.Lock()
			results = append(results, result)
			resultsMu.Unlock()
		}(target.name, target.baseURL)
	}

	wg.Wait()
	r.updateServiceGauge()

	sort.Slice(results, func(i, j int) bool {
		return results[i].ServiceName < results[j].ServiceName
	})

	return results, nil
}

// resolveProbeTargets snapshots name and URL pairs under the read lock so
// probes run without holding it. An explicitly named unknown service is an
// error; an empty name list means all services.
func (r *ServiceRegistry) resolveProbeTargets(names []string) ([]probeTarget, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		targets := make([]probeTarget, 0, len(r.services))
		for _, svc := range r.services {
			targets = append(targets, probeTarget{name: svc.Name, baseURL: svc.BaseURL})
		}
		return targets, nil
	}

	targets := make([]probeTarget, 0, len(names))
	for _, name := range names {
		svc, ok := r.services[name]
		if !ok {
			return nil, errors.NewNotFoundError(fmt.Sprintf("service %s", name))
		}
		targets = append(targets, probeTarget{name: svc.Name, baseURL: svc.BaseURL})
	}
	return targets, nil
}

func (r *ServiceRegistry) probeService(ctx context.Context, name, baseURL string) HealthCheckResult {
	probeCtx, cancel := context.WithTimeout(ctx, r.config.ProbeTimeout)
	defer cancel()

	start := time.Now()
	probeErr := r.prober.ProbeHealth(probeCtx, baseURL)
	duration := time.Since(start)

	result := HealthCheckResult{
		ServiceName: name,
		Healthy:     probeErr == nil,
		Duration:    duration,
		CheckedAt:   time.Now(),
	}
	if probeErr != nil {
		result.Error = probeErr.Error()
	}

	outcome := "healthy"
	if probeErr != nil {
		outcome = "unhealthy"
	}
	r.metrics.RecordHealthCheck(name, outcome, duration)

	r.recordProbeResult(result)
	return result
}

// recordProbeResult stores the probe outcome. The service may have been
// unregistered while the probe was in flight, in which case the result is
// discarded. Health flips are logged and reported through the hook.
func (r *ServiceRegistry) recordProbeResult(result HealthCheckResult) {
	r.mu.Lock()
	svc, ok := r.services[result.ServiceName]
	if !ok {
		r.mu.Unlock()
		return
	}
	flipped := svc.IsHealthy != result.Healthy
	svc.IsHealthy = result.Healthy
	svc.LastHealthCheck = result.CheckedAt
	r.mu.Unlock()

	if !flipped {
		r.logger.Debug("Health probe completed",
			"service", result.ServiceName,
			"healthy", result.Healthy,
			"duration_ms", result.Duration.Milliseconds())
		return
	}

	if result.Healthy {
		r.logger.Info("Service recovered",
			"service", result.ServiceName,
			"duration_ms", result.Duration.Milliseconds())
	} else {
		r.logger.Warn("Service became unhealthy",
			"service", result.ServiceName,
			"error", result.Error,
			"duration_ms", result.Duration.Milliseconds())
	}

	if r.config.OnHealthChange != nil {
		r.config.OnHealthChange(result.ServiceName, result.Healthy)
	}
}

// StartHealthMonitoring launches a single background loop that probes all
// services every interval (the configured HealthCheckInterval when interval
// is zero or negative). Starting while a loop is already running is a no-op
// with a warning. The loop stops when StopHealthMonitoring is called or ctx
// is cancelled.
func (r *ServiceRegistry) StartHealthMonitoring(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.config.HealthCheckInterval
	}

	r.monitorMu.Lock()
	if r.monitoring {
		r.monitorMu.Unlock()
		r.logger.Warn("Health monitoring already running, ignoring start request")
		return
	}
	r.monitoring = true
	stop := make(chan struct{})
	done := make(chan struct{})
	r.monitorStop = stop
	r.monitorDone = done
	r.monitorMu.Unlock()

	r.logger.Info("Health monitoring started", "interval", interval.String())

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := r.HealthCheck(ctx); err != nil {
					r.logger.Error("Health check cycle failed", "error", err.Error())
				}
			case <-stop:
				return
			case <-ctx.Done():
				r.monitorMu.Lock()
				if r.monitorDone == done {
					r.monitoring = false
					r.monitorStop = nil
					r.monitorDone = nil
				}
				r.monitorMu.Unlock()
				r.logger.Info("Health monitoring stopped", "reason", "context cancelled")
				return
			}
		}
	}()
}

// StopHealthMonitoring cancels the monitoring loop and waits until it has
// fully settled, including any probe cycle in flight. Stopping when no loop
// is running is a no-op.
func (r *ServiceRegistry) StopHealthMonitoring() {
	r.monitorMu.Lock()
	if !r.monitoring {
		r.monitorMu.Unlock()
		return
	}
	r.monitoring = false
	stop := r.monitorStop
	done := r.monitorDone
	r.monitorStop = nil
	r.monitorDone = nil
	r.monitorMu.Unlock()

	close(stop)
	<-done

	r.logger.Info("Health monitoring stopped", "reason", "stop requested")
}
