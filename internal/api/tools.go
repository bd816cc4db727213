package api

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/toolmesh/toolmesh/pkg/registry"
	"github.com/toolmesh/toolmesh/pkg/resilience"
)

// ToolHandler exposes the aggregated tool catalog and resilient dispatch.
type ToolHandler struct {
	registry *registry.ServiceRegistry
	manager  *resilience.ResilienceManager
}

// NewToolHandler creates a new tool handler
func NewToolHandler(reg *registry.ServiceRegistry, manager *resilience.ResilienceManager) *ToolHandler {
	return &ToolHandler{
		registry: reg,
		manager:  manager,
	}
}

// CallToolRequest represents a tool invocation request
type CallToolRequest struct {
	Args      map[string]interface{} `json:"args"`
	Fallbacks []string               `json:"fallbacks"`
}

// ListTools returns the tools advertised by healthy services, optionally
// filtered by owning service and tags
func (h *ToolHandler) ListTools(c *gin.Context) {
	serviceFilter := c.Query("service")

	var tags []string
	if raw := c.Query("tags"); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(tag); trimmed != "" {
				tags = append(tags, trimmed)
			}
		}
	}

	tools := h.registry.ListAvailableTools(serviceFilter, tags)
	SuccessResponse(c, gin.H{
		"tools": tools,
		"count": len(tools),
	})
}

// CallTool dispatches a tool call through the resilience layer. The breaker
// guarding the call is named after the tool's owning service; fallbacks name
// alternate services to try when the primary is rejected or exhausted.
func (h *ToolHandler) CallTool(c *gin.Context) {
	toolName := c.Param("name")

	var req CallToolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	owner := h.resolveOwner(toolName)
	if owner == "" {
		// No healthy owner; dispatch directly so the registry's not-found
		// or unavailable error reaches the caller without minting a breaker.
		result, err := h.registry.CallTool(c.Request.Context(), toolName, req.Args)
		if err != nil {
			ErrorResponseFromError(c, err)
			return
		}
		SuccessResponse(c, gin.H{"tool": toolName, "result": result})
		return
	}

	// served ends up naming the target that actually answered, which is a
	// fallback when the primary's chain is exhausted. A deduplicated caller
	// never runs the operation, so it reports the primary it attached to.
	served := owner
	operation := func(ctx context.Context, serviceName string) (interface{}, error) {
		result, opErr := h.registry.CallToolOn(ctx, serviceName, toolName, req.Args)
		if opErr == nil {
			served = serviceName
		}
		return result, opErr
	}

	result, err := h.manager.CallWithResilience(c.Request.Context(), owner, operation, &resilience.CallOptions{
		Fallbacks: req.Fallbacks,
		Args:      req.Args,
	})
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, gin.H{
		"tool":    toolName,
		"service": served,
		"result":  result,
	})
}

func (h *ToolHandler) resolveOwner(toolName string) string {
	for _, tool := range h.registry.ListAvailableTools("", nil) {
		if tool.Name == toolName {
			return tool.ServiceName
		}
	}
	return ""
}
