package resilience

import (
	"sync"
	"time"

	"github.com/toolmesh/toolmesh/pkg/logging"
)

// DegradationLevel represents the level of mesh-wide degradation
type DegradationLevel int

const (
	// LevelNormal - all services are operational
	LevelNormal DegradationLevel = iota
	// LevelPartial - some services are degraded but core routing works
	LevelPartial
	// LevelSevere - significant degradation, only essential services respond
	LevelSevere
	// LevelCritical - the mesh is barely functional
	LevelCritical
)

func (l DegradationLevel) String() string {
	switch l {
	case LevelNormal:
		return "NORMAL"
	case LevelPartial:
		return "PARTIAL"
	case LevelSevere:
		return "SEVERE"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ServiceHealth represents the observed health of one mesh service
type ServiceHealth struct {
	Name         string
	Healthy      bool
	LastCheck    time.Time
	ErrorCount   int
	ResponseTime time.Duration
	Message      string
}

// DegradationManager aggregates per-service health reports into a
// mesh-wide degradation level
type DegradationManager struct {
	services map[string]*ServiceHealth
	mutex    sync.RWMutex
	logger   *logging.Logger

	// Configuration
	unhealthyThreshold int
	degradationRules   map[string]DegradationLevel
}

// NewDegradationManager creates a new degradation manager
func NewDegradationManager() *DegradationManager {
	return &DegradationManager{
		services:           make(map[string]*ServiceHealth),
		logger:             logging.GetLogger(),
		unhealthyThreshold: 3,
		degradationRules:   make(map[string]DegradationLevel),
	}
}

// RegisterService starts tracking a service. The degradation level states
// how severe the mesh-wide impact is when this service goes unhealthy.
func (dm *DegradationManager) RegisterService(name string, degradationLevel DegradationLevel) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	dm.services[name] = &ServiceHealth{
		Name:      name,
		Healthy:   true,
		LastCheck: time.Now(),
	}
	dm.degradationRules[name] = degradationLevel
}

// UnregisterService stops tracking a service
func (dm *DegradationManager) UnregisterService(name string) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	delete(dm.services, name)
	delete(dm.degradationRules, name)
}

// UpdateServiceHealth records the outcome of a health observation. A
// service is marked unhealthy only after unhealthyThreshold consecutive
// failed observations; a single success restores it.
func (dm *DegradationManager) UpdateServiceHealth(name string, healthy bool, responseTime time.Duration, message string) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	service, exists := dm.services[name]
	if !exists {
		dm.logger.Warn("Attempted to update health for unregistered service", "service", name)
		return
	}

	service.LastCheck = time.Now()
	service.ResponseTime = responseTime
	service.Message = message

	if healthy {
		service.Healthy = true
		service.ErrorCount = 0
	} else {
		service.ErrorCount++
		if service.ErrorCount >= dm.unhealthyThreshold {
			service.Healthy = false
		}
	}

	dm.logger.Debug("Service health updated",
		"service", name,
		"healthy", service.Healthy,
		"error_count", service.ErrorCount,
		"response_time", responseTime,
		"message", message,
	)
}

// GetCurrentDegradationLevel returns the current mesh degradation level
func (dm *DegradationManager) GetCurrentDegradationLevel() DegradationLevel {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	maxLevel := LevelNormal
	unhealthyServices := 0
	totalServices := len(dm.services)

	for name, service := range dm.services {
		if !service.Healthy {
			unhealthyServices++
			if level, exists := dm.degradationRules[name]; exists && level > maxLevel {
				maxLevel = level
			}
		}
	}

	// Escalate based on the share of unhealthy services
	if totalServices > 0 {
		unhealthyPercentage := float64(unhealthyServices) / float64(totalServices)
		if unhealthyPercentage >= 0.75 {
			if maxLevel < LevelCritical {
				maxLevel = LevelCritical
			}
		} else if unhealthyPercentage >= 0.5 {
			if maxLevel < LevelSevere {
				maxLevel = LevelSevere
			}
		} else if unhealthyPercentage >= 0.25 {
			if maxLevel < LevelPartial {
				maxLevel = LevelPartial
			}
		}
	}

	return maxLevel
}

// GetServiceHealth returns the health status of a specific service
func (dm *DegradationManager) GetServiceHealth(name string) (*ServiceHealth, bool) {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	service, exists := dm.services[name]
	if !exists {
		return nil, false
	}

	// Return a copy to avoid race conditions
	return &ServiceHealth{
		Name:         service.Name,
		Healthy:      service.Healthy,
		LastCheck:    service.LastCheck,
		ErrorCount:   service.ErrorCount,
		ResponseTime: service.ResponseTime,
		Message:      service.Message,
	}, true
}

// GetAllServiceHealth returns the health status of all tracked services
func (dm *DegradationManager) GetAllServiceHealth() map[string]*ServiceHealth {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	result := make(map[string]*ServiceHealth)
	for name, service := range dm.services {
		result[name] = &ServiceHealth{
			Name:         service.Name,
			Healthy:      service.Healthy,
			LastCheck:    service.LastCheck,
			ErrorCount:   service.ErrorCount,
			ResponseTime: service.ResponseTime,
			Message:      service.Message,
		}
	}
	return result
}

// IsServiceHealthy checks if a specific service is healthy
func (dm *DegradationManager) IsServiceHealthy(name string) bool {
	service, exists := dm.GetServiceHealth(name)
	return exists && service.Healthy
}

// GetHealthyServices returns a list of healthy services
func (dm *DegradationManager) GetHealthyServices() []string {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	var healthy []string
	for name, service := range dm.services {
		if service.Healthy {
			healthy = append(healthy, name)
		}
	}
	return healthy
}

// GetUnhealthyServices returns a list of unhealthy services
func (dm *DegradationManager) GetUnhealthyServices() []string {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	var unhealthy []string
	for name, service := range dm.services {
		if !service.Healthy {
			unhealthy = append(unhealthy, name)
		}
	}
	return unhealthy
}

// GetStatus returns a summary of the current degradation state suitable
// for operational endpoints
func (dm *DegradationManager) GetStatus() map[string]interface{} {
	level := dm.GetCurrentDegradationLevel()
	healthy := dm.GetHealthyServices()
	unhealthy := dm.GetUnhealthyServices()

	return map[string]interface{}{
		"degradation_level":  level.String(),
		"healthy_services":   healthy,
		"unhealthy_services": unhealthy,
		"total_services":     len(healthy) + len(unhealthy),
	}
}
