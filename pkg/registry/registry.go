package registry

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/toolmesh/toolmesh/pkg/errors"
	"github.com/toolmesh/toolmesh/pkg/logging"
	"github.com/toolmesh/toolmesh/pkg/metrics"
	"github.com/toolmesh/toolmesh/pkg/tracing"
)

// CatalogFetcher retrieves a service's tool catalog from its catalog URL.
type CatalogFetcher interface {
	FetchCatalog(ctx context.Context, url string) (*CatalogDocument, error)
}

// HealthProber checks whether a service is reachable. A nil return means
// healthy; any error marks the service unhealthy.
type HealthProber interface {
	ProbeHealth(ctx context.Context, baseURL string) error
}

// ToolInvoker dispatches a tool call to the service that owns the tool.
type ToolInvoker interface {
	Invoke(ctx context.Context, service *ServiceInfo, tool string, args map[string]interface{}) (interface{}, error)
}

// SnapshotStore persists registrations outside the process so a restarted
// daemon can re-discover its mesh. Saves and deletes are best effort: the
// registry logs failures and carries on.
type SnapshotStore interface {
	SaveService(ctx context.Context, name, baseURL string, tags []string) error
	DeleteService(ctx context.Context, name string) error
}

// Config holds service registry configuration
type Config struct {
	// HealthCheckInterval is the default cycle period for background
	// health monitoring.
	HealthCheckInterval time.Duration

	// ProbeTimeout bounds each individual health probe.
	ProbeTimeout time.Duration

	// MaxConcurrentProbes caps how many probes run at once during a
	// health check sweep.
	MaxConcurrentProbes int

	// CatalogTimeout bounds catalog fetches during registration.
	CatalogTimeout time.Duration

	// ToolCallTimeout bounds a single tool dispatch.
	ToolCallTimeout time.Duration

	// OnHealthChange is called whenever a service's health flips, after
	// the registry has recorded the new state. Optional.
	OnHealthChange func(serviceName string, healthy bool)

	// OnUnregister is called after a service has been removed from the
	// registry. Optional.
	OnUnregister func(serviceName string)

	// Metrics records registry activity. Optional; nil disables recording.
	Metrics *metrics.Metrics

	// Snapshot persists registrations when set. Optional.
	Snapshot SnapshotStore
}

// DefaultConfig returns sensible registry defaults.
func DefaultConfig() Config {
	return Config{
		HealthCheckInterval: 30 * time.Second,
		ProbeTimeout:        5 * time.Second,
		MaxConcurrentProbes: 8,
		CatalogTimeout:      10 * time.Second,
		ToolCallTimeout:     30 * time.Second,
	}
}

// ServiceRegistry tracks registered services, their health, and the tools
// they advertise, and dispatches tool calls to the owning service.
type ServiceRegistry struct {
	config   Config
	fetcher  CatalogFetcher
	prober   HealthProber
	invoker  ToolInvoker
	logger   *logging.Logger
	metrics  *metrics.Metrics
	snapshot SnapshotStore

	mu       sync.RWMutex
	services map[string]*ServiceInfo

	monitorMu   sync.Mutex
	monitorStop chan struct{}
	monitorDone chan struct{}
	monitoring  bool
}

// NewServiceRegistry creates a registry with the given collaborators.
// Zero-valued config fields are filled from DefaultConfig.
func NewServiceRegistry(config Config, fetcher CatalogFetcher, prober HealthProber, invoker ToolInvoker) *ServiceRegistry {
	defaults := DefaultConfig()
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = defaults.HealthCheckInterval
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = defaults.ProbeTimeout
	}
	if config.MaxConcurrentProbes <= 0 {
		config.MaxConcurrentProbes = defaults.MaxConcurrentProbes
	}
	if config.CatalogTimeout <= 0 {
		config.CatalogTimeout = defaults.CatalogTimeout
	}
	if config.ToolCallTimeout <= 0 {
		config.ToolCallTimeout = defaults.ToolCallTimeout
	}

	return &ServiceRegistry{
		config:   config,
		fetcher:  fetcher,
		prober:   prober,
		invoker:  invoker,
		logger:   logging.GetLogger(),
		metrics:  config.Metrics,
		snapshot: config.Snapshot,
		services: make(map[string]*ServiceInfo),
	}
}

// RegisterService fetches the catalog at the conventional catalog endpoint
// of baseURL and, on success, stores the service as healthy. Registration
// is all-or-nothing: a failed catalog fetch stores nothing and returns a
// discovery error. An empty name falls back to the catalog's declared name,
// then to the URL host.
func (r *ServiceRegistry) RegisterService(ctx context.Context, name, baseURL string, tags []string) (*ServiceInfo, error) {
	if baseURL == "" {
		return nil, errors.NewValidationError("service base URL is required")
	}
	baseURL = strings.TrimRight(baseURL, "/")
	catalogURL := baseURL + catalogPath

	fetchCtx, cancel := context.WithTimeout(ctx, r.config.CatalogTimeout)
	defer cancel()

	catalog, err := r.fetcher.FetchCatalog(fetchCtx, catalogURL)
	if err != nil {
		derr := err
		var appErr *errors.AppError
		if !stderrors.As(err, &appErr) {
			derr = errors.NewDiscoveryError(catalogURL, "failed to fetch service catalog").WithCause(err)
		}
		r.logger.Error("Service registration failed",
			"base_url", baseURL,
			"catalog_url", catalogURL,
			"error", err.Error())
		return nil, derr
	}

	if name == "" {
		name = catalog.Name
	}
	if name == "" {
		name = deriveNameFromURL(baseURL)
	}

	now := time.Now()
	info := &ServiceInfo{
		Name:            name,
		BaseURL:         baseURL,
		CatalogURL:      catalogURL,
		Catalog:         catalog,
		Tags:            mergeTags(tags, catalog.Tags),
		Metadata:        catalog.Metadata,
		IsHealthy:       true,
		LastHealthCheck: now,
		RegisteredAt:    now,
	}

	r.mu.Lock()
	if existing, ok := r.services[name]; ok && existing.BaseURL != baseURL {
		r.logger.Warn("Service name already registered with a different URL, replacing",
			"service", name,
			"old_url", existing.BaseURL,
			"new_url", baseURL)
	}
	r.services[name] = info
	r.mu.Unlock()

	r.updateServiceGauge()

	if r.snapshot != nil {
		if saveErr := r.snapshot.SaveService(ctx, name, baseURL, info.Tags); saveErr != nil {
			r.logger.Warn("Failed to persist service registration",
				"service", name,
				"error", saveErr.Error())
		}
	}

	r.logger.LogServiceEvent(ctx, "registered", name, baseURL, logrus.Fields{
		"tools": len(catalog.Tools),
		"tags":  info.Tags,
	})

	snapshot := *info
	return &snapshot, nil
}

// DiscoverServices registers each URL independently, deriving names from
// the catalogs. Failures are logged and collected. When failOnError is
// false every URL is attempted and the successes are returned alongside
// the errors; when true the first failure stops the walk.
func (r *ServiceRegistry) DiscoverServices(ctx context.Context, urls []string, failOnError bool) ([]*ServiceInfo, []error) {
	var (
		registered []*ServiceInfo
		errs       []error
	)

	for _, u := range urls {
		info, err := r.RegisterService(ctx, "", u, nil)
		if err != nil {
			r.logger.Warn("Service discovery failed for URL",
				"url", u,
				"error", err.Error())
			errs = append(errs, err)
			if failOnError {
				return registered, errs
			}
			continue
		}
		registered = append(registered, info)
	}

	r.logger.Info("Service discovery completed",
		"attempted", len(urls),
		"registered", len(registered),
		"failed", len(errs))

	return registered, errs
}

// UnregisterService removes a service. Removing an unknown name is a no-op.
func (r *ServiceRegistry) UnregisterService(name string) {
	r.mu.Lock()
	info, ok := r.services[name]
	if ok {
		delete(r.services, name)
	}
	r.mu.Unlock()

	if ok {
		r.updateServiceGauge()

		if r.snapshot != nil {
			if delErr := r.snapshot.DeleteService(context.Background(), name); delErr != nil {
				r.logger.Warn("Failed to remove persisted registration",
					"service", name,
					"error", delErr.Error())
			}
		}

		if r.config.OnUnregister != nil {
			r.config.OnUnregister(name)
		}

		r.logger.LogServiceEvent(context.Background(), "unregistered", name, info.BaseURL, nil)
	}
}

// GetService returns a snapshot of one registered service.
func (r *ServiceRegistry) GetService(name string) (*ServiceInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.services[name]
	if !ok {
		return nil, errors.NewNotFoundError(fmt.Sprintf("service %s", name))
	}

	snapshot := *info
	return &snapshot, nil
}

// ListServices returns snapshots of all registered services sorted by name.
func (r *ServiceRegistry) ListServices() []*ServiceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	services := make([]*ServiceInfo, 0, len(r.services))
	for _, info := range r.services {
		snapshot := *info
		services = append(services, &snapshot)
	}

	sort.Slice(services, func(i, j int) bool {
		return services[i].Name < services[j].Name
	})

	return services
}

// ListAvailableTools returns the tools advertised by healthy services,
// each annotated with its owning service. Services that are unhealthy or
// have no catalog are skipped. serviceFilter restricts to one service;
// a non-empty tags filter keeps only services whose tag set intersects it.
func (r *ServiceRegistry) ListAvailableTools(serviceFilter string, tags []string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tools []Tool
	for _, svc := range r.services {
		if serviceFilter != "" && svc.Name != serviceFilter {
			continue
		}
		if !svc.IsHealthy || svc.Catalog == nil {
			continue
		}
		if !svc.HasAnyTag(tags) {
			continue
		}
		for _, def := range svc.Catalog.Tools {
			tools = append(tools, Tool{
				ToolDefinition: def,
				ServiceName:    svc.Name,
				ServiceBaseURL: svc.BaseURL,
				ServiceTags:    svc.Tags,
			})
		}
	}

	sort.Slice(tools, func(i, j int) bool {
		if tools[i].ServiceName != tools[j].ServiceName {
			return tools[i].ServiceName < tools[j].ServiceName
		}
		return tools[i].Name < tools[j].Name
	})

	return tools
}

// CallTool resolves the healthy service that advertises toolName and
// dispatches the call through the invoker. If no catalog declares the tool
// a not-found error is returned; if owners exist but none is healthy an
// unavailable error is returned. Neither case performs a network call.
func (r *ServiceRegistry) CallTool(ctx context.Context, toolName string, args map[string]interface{}) (result interface{}, err error) {
	if toolName == "" {
		return nil, errors.NewValidationError("tool name is required")
	}

	ctx, span := tracing.StartToolCallSpan(ctx, toolName)
	defer func() { tracing.EndSpan(span, err) }()

	r.mu.RLock()
	var (
		owner         *ServiceInfo
		unhealthyName string
	)
	for _, svc := range r.services {
		if !svc.HasTool(toolName) {
			continue
		}
		if svc.IsHealthy {
			snapshot := *svc
			owner = &snapshot
			break
		}
		unhealthyName = svc.Name
	}
	r.mu.RUnlock()

	if owner == nil {
		if unhealthyName == "" {
			return nil, errors.NewToolNotFoundError(toolName)
		}
		return nil, errors.NewUnavailableError(unhealthyName,
			fmt.Sprintf("service %q provides tool %q but is currently unhealthy", unhealthyName, toolName))
	}

	return r.dispatch(ctx, owner, toolName, args)
}

// CallToolOn dispatches toolName to one specific service, bypassing owner
// resolution. Callers that have already settled on a target use this, most
// notably the resilience layer when it routes to a fallback service.
func (r *ServiceRegistry) CallToolOn(ctx context.Context, serviceName, toolName string, args map[string]interface{}) (result interface{}, err error) {
	if serviceName == "" {
		return nil, errors.NewValidationError("service name is required")
	}
	if toolName == "" {
		return nil, errors.NewValidationError("tool name is required")
	}

	ctx, span := tracing.StartToolCallSpan(ctx, toolName)
	defer func() { tracing.EndSpan(span, err) }()

	r.mu.RLock()
	var owner *ServiceInfo
	if svc, ok := r.services[serviceName]; ok {
		snapshot := *svc
		owner = &snapshot
	}
	r.mu.RUnlock()

	if owner == nil {
		return nil, errors.NewNotFoundError(fmt.Sprintf("service %s", serviceName))
	}
	if !owner.IsHealthy {
		return nil, errors.NewUnavailableError(serviceName,
			fmt.Sprintf("service %q is currently unhealthy", serviceName))
	}
	if !owner.HasTool(toolName) {
		return nil, errors.NewNotFoundError(fmt.Sprintf("tool %q on service %q", toolName, serviceName))
	}

	return r.dispatch(ctx, owner, toolName, args)
}

// dispatch invokes toolName on an already resolved owner with the configured
// per-call timeout and records the outcome.
func (r *ServiceRegistry) dispatch(ctx context.Context, owner *ServiceInfo, toolName string, args map[string]interface{}) (interface{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.config.ToolCallTimeout)
	defer cancel()

	start := time.Now()
	result, err := r.invoker.Invoke(callCtx, owner, toolName, args)
	duration := time.Since(start)

	if err != nil {
		r.metrics.RecordToolCall(toolName, owner.Name, "error", duration)
		r.logger.LogToolEvent(ctx, "dispatch_failed", toolName, owner.Name, logrus.Fields{
			"duration_ms": duration.Milliseconds(),
			"error":       err.Error(),
		})
		return nil, err
	}

	r.metrics.RecordToolCall(toolName, owner.Name, "success", duration)
	r.logger.LogToolEvent(ctx, "dispatched", toolName, owner.Name, logrus.Fields{
		"duration_ms": duration.Milliseconds(),
	})

	return result, nil
}

// GetStats returns a snapshot of registry-wide counters.
func (r *ServiceRegistry) GetStats() *RegistryStats {
	r.mu.RLock()
	stats := &RegistryStats{
		TotalServices: len(r.services),
		LastUpdated:   time.Now(),
	}
	for _, svc := range r.services {
		if svc.IsHealthy {
			stats.HealthyServices++
		} else {
			stats.UnhealthyServices++
		}
		if svc.Catalog != nil {
			stats.TotalTools += len(svc.Catalog.Tools)
		}
	}
	r.mu.RUnlock()

	r.monitorMu.Lock()
	stats.MonitoringActive = r.monitoring
	r.monitorMu.Unlock()

	return stats
}

// updateServiceGauge refreshes the registered-services gauge after the
// service set or a health state changes.
func (r *ServiceRegistry) updateServiceGauge() {
	if r.metrics == nil {
		return
	}

	r.mu.RLock()
	healthy, unhealthy := 0, 0
	for _, svc := range r.services {
		if svc.IsHealthy {
			healthy++
		} else {
			unhealthy++
		}
	}
	r.mu.RUnlock()

	r.metrics.SetRegisteredServices(healthy, unhealthy)
}

// deriveNameFromURL falls back to the host portion of the URL, or the raw
// URL when it cannot be parsed.
func deriveNameFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

// mergeTags unions caller-supplied and catalog-declared tags, preserving
// first-seen order.
func mergeTags(callerTags, catalogTags []string) []string {
	if len(callerTags) == 0 && len(catalogTags) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(callerTags)+len(catalogTags))
	merged := make([]string, 0, len(callerTags)+len(catalogTags))
	for _, tag := range callerTags {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		merged = append(merged, tag)
	}
	for _, tag := range catalogTags {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		merged = append(merged, tag)
	}
	return merged
}
