package api

import (
	"github.com/gin-gonic/gin"

	"github.com/toolmesh/toolmesh/pkg/registry"
)

// ServiceHandler exposes service registration and discovery endpoints.
type ServiceHandler struct {
	registry *registry.ServiceRegistry
}

// NewServiceHandler creates a new service handler
func NewServiceHandler(reg *registry.ServiceRegistry) *ServiceHandler {
	return &ServiceHandler{registry: reg}
}

// RegisterServiceRequest represents a request to register a service
type RegisterServiceRequest struct {
	Name    string   `json:"name"`
	BaseURL string   `json:"base_url" binding:"required"`
	Tags    []string `json:"tags"`
}

// DiscoverServicesRequest represents a request to discover services in bulk
type DiscoverServicesRequest struct {
	URLs        []string `json:"urls" binding:"required,min=1"`
	FailOnError bool     `json:"fail_on_error"`
}

// ListServices returns all registered services
func (h *ServiceHandler) ListServices(c *gin.Context) {
	services := h.registry.ListServices()
	SuccessResponse(c, gin.H{
		"services": services,
		"count":    len(services),
	})
}

// GetService returns a single registered service by name
func (h *ServiceHandler) GetService(c *gin.Context) {
	name := c.Param("name")

	service, err := h.registry.GetService(name)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, service)
}

// RegisterService registers a service from its catalog endpoint
func (h *ServiceHandler) RegisterService(c *gin.Context) {
	var req RegisterServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	service, err := h.registry.RegisterService(c.Request.Context(), req.Name, req.BaseURL, req.Tags)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	CreatedResponse(c, service)
}

// DiscoverServices registers a batch of services by their base URLs
func (h *ServiceHandler) DiscoverServices(c *gin.Context) {
	var req DiscoverServicesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	services, errs := h.registry.DiscoverServices(c.Request.Context(), req.URLs, req.FailOnError)
	if req.FailOnError && len(errs) > 0 {
		ErrorResponseFromError(c, errs[0])
		return
	}

	failures := make([]string, 0, len(errs))
	for _, err := range errs {
		failures = append(failures, err.Error())
	}

	SuccessResponse(c, gin.H{
		"registered": services,
		"count":      len(services),
		"errors":     failures,
	})
}

// UnregisterService removes a service from the registry. Removing an
// unknown service succeeds so the operation can be retried safely.
func (h *ServiceHandler) UnregisterService(c *gin.Context) {
	name := c.Param("name")

	removed := false
	if _, err := h.registry.GetService(name); err == nil {
		removed = true
	}
	h.registry.UnregisterService(name)

	SuccessResponse(c, gin.H{
		"name":    name,
		"removed": removed,
	})
}

// HealthCheckService probes a single service on demand
func (h *ServiceHandler) HealthCheckService(c *gin.Context) {
	name := c.Param("name")

	results, err := h.registry.HealthCheck(c.Request.Context(), name)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	if len(results) == 0 {
		InternalErrorResponse(c, "Health check produced no result")
		return
	}

	SuccessResponse(c, results[0])
}
