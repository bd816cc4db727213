package registry

import (
	"time"
)

// ToolDefinition describes a single tool as declared by a service catalog.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

// CatalogDocument is the self-description a service publishes at its
// catalog endpoint.
type CatalogDocument struct {
	Name     string                 `json:"name,omitempty"`
	Tools    []ToolDefinition       `json:"tools"`
	Tags     []string               `json:"tags,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ServiceInfo is the registry's record of a registered service.
type ServiceInfo struct {
	Name            string                 `json:"name"`
	BaseURL         string                 `json:"base_url"`
	CatalogURL      string                 `json:"catalog_url"`
	Catalog         *CatalogDocument       `json:"catalog,omitempty"`
	Tags            []string               `json:"tags,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	IsHealthy       bool                   `json:"is_healthy"`
	LastHealthCheck time.Time              `json:"last_health_check"`
	RegisteredAt    time.Time              `json:"registered_at"`
}

// HasTool reports whether the service's catalog declares the named tool.
func (s *ServiceInfo) HasTool(name string) bool {
	if s.Catalog == nil {
		return false
	}
	for _, tool := range s.Catalog.Tools {
		if tool.Name == name {
			return true
		}
	}
	return false
}

// HasAnyTag reports whether the service carries at least one of the given
// tags. An empty filter matches every service.
func (s *ServiceInfo) HasAnyTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		for _, have := range s.Tags {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Tool is a catalog entry annotated with the service that provides it.
type Tool struct {
	ToolDefinition
	ServiceName    string   `json:"service_name"`
	ServiceBaseURL string   `json:"service_base_url"`
	ServiceTags    []string `json:"service_tags,omitempty"`
}

// HealthCheckResult captures the outcome of probing a single service.
type HealthCheckResult struct {
	ServiceName string        `json:"service_name"`
	Healthy     bool          `json:"healthy"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
	CheckedAt   time.Time     `json:"checked_at"`
}

// RegistryStats is a point-in-time snapshot of the registry.
type RegistryStats struct {
	TotalServices     int       `json:"total_services"`
	HealthyServices   int       `json:"healthy_services"`
	UnhealthyServices int       `json:"unhealthy_services"`
	TotalTools        int       `json:"total_tools"`
	MonitoringActive  bool      `json:"monitoring_active"`
	LastUpdated       time.Time `json:"last_updated"`
}
