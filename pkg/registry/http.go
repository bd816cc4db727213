package registry

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/toolmesh/toolmesh/pkg/errors"
)

// Endpoint conventions shared by the HTTP collaborators.
const (
	catalogPath    = "/catalog"
	healthPath     = "/health"
	toolPathPrefix = "/tools/"
)

// NewHTTPClient returns the connection-pooled client shared by the catalog
// fetcher, health prober, and tool invoker. Per-call deadlines come from
// the request context, so the client itself carries no timeout.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        64,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// NewHTTPServiceRegistry wires a registry with HTTP collaborators backed by
// a single shared client.
func NewHTTPServiceRegistry(config Config) *ServiceRegistry {
	client := NewHTTPClient()
	return NewServiceRegistry(config,
		NewHTTPCatalogFetcher(client),
		NewHTTPHealthProber(client),
		NewHTTPToolInvoker(client))
}

// HTTPCatalogFetcher retrieves catalog documents with a GET request.
type HTTPCatalogFetcher struct {
	client *http.Client
}

func NewHTTPCatalogFetcher(client *http.Client) *HTTPCatalogFetcher {
	if client == nil {
		client = NewHTTPClient()
	}
	return &HTTPCatalogFetcher{client: client}
}

func (f *HTTPCatalogFetcher) FetchCatalog(ctx context.Context, catalogURL string) (*CatalogDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, catalogURL, nil)
	if err != nil {
		return nil, errors.NewDiscoveryError(catalogURL, "invalid catalog URL").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.NewDiscoveryError(catalogURL, "catalog request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		drainBody(resp.Body)
		return nil, errors.NewDiscoveryError(catalogURL,
			fmt.Sprintf("catalog endpoint returned status %d", resp.StatusCode))
	}

	var catalog CatalogDocument
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return nil, errors.NewDiscoveryError(catalogURL, "failed to decode catalog document").WithCause(err)
	}

	return &catalog, nil
}

// HTTPHealthProber treats any 2xx response from the health endpoint as
// healthy. Response content is never inspected.
type HTTPHealthProber struct {
	client *http.Client
}

func NewHTTPHealthProber(client *http.Client) *HTTPHealthProber {
	if client == nil {
		client = NewHTTPClient()
	}
	return &HTTPHealthProber{client: client}
}

func (p *HTTPHealthProber) ProbeHealth(ctx context.Context, baseURL string) error {
	probeURL := strings.TrimRight(baseURL, "/") + healthPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return errors.NewValidationError(fmt.Sprintf("invalid health probe URL %q", probeURL)).WithCause(err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return errors.NewTimeoutError(fmt.Sprintf("health probe for %s", baseURL))
		}
		return errors.NewExternalError(baseURL, "health probe failed").WithCause(err)
	}
	defer resp.Body.Close()
	drainBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewExternalError(baseURL,
			fmt.Sprintf("health endpoint returned status %d", resp.StatusCode))
	}

	return nil
}

// HTTPToolInvoker posts tool arguments as JSON to the owning service's
// tool endpoint and decodes the JSON response.
type HTTPToolInvoker struct {
	client *http.Client
}

func NewHTTPToolInvoker(client *http.Client) *HTTPToolInvoker {
	if client == nil {
		client = NewHTTPClient()
	}
	return &HTTPToolInvoker{client: client}
}

func (i *HTTPToolInvoker) Invoke(ctx context.Context, service *ServiceInfo, tool string, args map[string]interface{}) (interface{}, error) {
	if args == nil {
		args = map[string]interface{}{}
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return nil, errors.NewValidationError(
			fmt.Sprintf("tool arguments for %q are not serializable", tool)).WithCause(err)
	}

	callURL := strings.TrimRight(service.BaseURL, "/") + toolPathPrefix + url.PathEscape(tool)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callURL, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("invalid tool URL %q", callURL)).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.NewTimeoutError(fmt.Sprintf("tool call %q on service %s", tool, service.Name))
		}
		return nil, errors.NewServiceError(service.Name,
			fmt.Sprintf("tool call %q failed", tool)).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		message := strings.TrimSpace(string(body))
		if message == "" {
			message = fmt.Sprintf("tool %q returned status %d", tool, resp.StatusCode)
		}
		if resp.StatusCode >= 500 {
			return nil, errors.NewServiceError(service.Name, message)
		}
		return nil, errors.NewValidationError(message).WithDetail("tool", tool).WithDetail("service", service.Name)
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var result interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errors.NewServiceError(service.Name,
			fmt.Sprintf("failed to decode response from tool %q", tool)).WithCause(err)
	}

	return result, nil
}

// drainBody consumes the remainder of a response so the underlying
// connection can be reused by the pool.
func drainBody(body io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
}
