package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mozilla-ai/mcpshield/internal/contracts"
	"github.com/mozilla-ai/mcpshield/internal/lazy"
	"github.com/mozilla-ai/mcpshield/internal/metrics"
	"github.com/mozilla-ai/mcpshield/internal/provider"
	"github.com/mozilla-ai/mcpshield/internal/sandbox"
)

// LazyLoading reports the schema loading mode and its counters.
type LazyLoading struct {
	Mode    lazy.Mode          `json:"mode"`
	Metrics lazy.LoaderMetrics `json:"metrics"`
}

// MetricsResponse represents the wrapped API response for the proxy counters.
type MetricsResponse struct {
	Body struct {
		Proxy       metrics.Snapshot `doc:"Request counters"          json:"proxy"`
		LazyLoading LazyLoading      `doc:"Schema loading counters"   json:"lazy_loading"`
	}
}

// SandboxResponse represents the wrapped API response for the sandbox capability report.
type SandboxResponse struct {
	Body sandbox.Report
}

// ProvidersResponse represents the wrapped API response for the tool providers.
type ProvidersResponse struct {
	Body struct {
		Providers []provider.Info `doc:"Registered tool providers" json:"providers"`
		Count     int             `doc:"Number of providers"       json:"count"`
	}
}

// RegisterRuntimeRoutes sets up the metrics, sandbox and provider endpoints.
func RegisterRuntimeRoutes(routerAPI huma.API, reporter contracts.RuntimeReporter, apiPathPrefix string) {
	runtimeAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Runtime"}

	huma.Register(
		runtimeAPI,
		huma.Operation{
			OperationID: "getMetrics",
			Method:      http.MethodGet,
			Path:        "/metrics",
			Summary:     "Get request and schema loading counters",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*MetricsResponse, error) {
			return handleMetrics(reporter), nil
		},
	)

	huma.Register(
		runtimeAPI,
		huma.Operation{
			OperationID: "getSandbox",
			Method:      http.MethodGet,
			Path:        "/sandbox",
			Summary:     "Get the sandbox capabilities of the host",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*SandboxResponse, error) {
			return &SandboxResponse{Body: reporter.Sandbox()}, nil
		},
	)

	huma.Register(
		runtimeAPI,
		huma.Operation{
			OperationID: "listProviders",
			Method:      http.MethodGet,
			Path:        "/providers",
			Summary:     "List tool providers",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*ProvidersResponse, error) {
			return handleProviders(ctx, reporter), nil
		},
	)
}

func handleMetrics(reporter contracts.RuntimeReporter) *MetricsResponse {
	resp := &MetricsResponse{}
	resp.Body.Proxy = reporter.Metrics()
	resp.Body.LazyLoading.Mode, resp.Body.LazyLoading.Metrics = reporter.LazyLoading()
	return resp
}

func handleProviders(ctx context.Context, reporter contracts.RuntimeReporter) *ProvidersResponse {
	resp := &ProvidersResponse{}
	resp.Body.Providers = reporter.Providers(ctx)
	if resp.Body.Providers == nil {
		resp.Body.Providers = []provider.Info{}
	}
	resp.Body.Count = len(resp.Body.Providers)
	return resp
}
