// Package registry tracks mesh services, their live health, and the tools
// they advertise, and dispatches tool calls to the owning service.
//
// # Registration and Discovery
//
// A service is registered by fetching its catalog document from the
// conventional catalog endpoint under its base URL. Registration is
// all-or-nothing: if the catalog cannot be fetched, nothing is stored.
//
//	reg := registry.NewHTTPServiceRegistry(registry.DefaultConfig())
//	info, err := reg.RegisterService(ctx, "payments", "http://payments:8080", []string{"prod"})
//
// DiscoverServices registers a batch of URLs independently, deriving each
// service name from its catalog:
//
//	registered, errs := reg.DiscoverServices(ctx, urls, false)
//
// # Health Monitoring
//
// HealthCheck probes services concurrently with a bounded number of
// in-flight probes, each limited by its own timeout. A background loop can
// keep health fresh:
//
//	reg.StartHealthMonitoring(ctx, 30*time.Second)
//	defer reg.StopHealthMonitoring()
//
// # Tool Catalog and Dispatch
//
// ListAvailableTools returns the union of catalog entries across healthy
// services, annotated with the owning service. CallTool resolves the
// healthy owner of a tool and dispatches through the configured invoker:
//
//	result, err := reg.CallTool(ctx, "scan_repository", map[string]interface{}{
//		"repo_url": "https://github.com/acme/shop",
//	})
//
// The catalog fetcher, health prober, and tool invoker are pluggable
// interfaces; the HTTP implementations share one connection-pooled client.
package registry
