package api

import (
	"fmt"
	"net/url"
	"reflect"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mozilla-ai/mcpshield/internal/contracts"
)

// APIVersion is the version used in the OpenAPI spec and URL paths.
const APIVersion = "v1"

// Handlers groups the services backing the REST API.
type Handlers struct {
	Health    contracts.MCPHealthMonitor
	Inventory contracts.MCPServerInventory
	Catalog   contracts.MCPToolCatalog
	Cache     contracts.SchemaCacheAdmin
	Runtime   contracts.RuntimeReporter
}

// Validate ensures every handler dependency is set.
func (h Handlers) Validate() error {
	for name, v := range map[string]any{
		"health monitor":   h.Health,
		"server inventory": h.Inventory,
		"tool catalog":     h.Catalog,
		"cache admin":      h.Cache,
		"runtime reporter": h.Runtime,
	} {
		if v == nil || reflect.ValueOf(v).IsNil() {
			return fmt.Errorf("%s cannot be nil", name)
		}
	}
	return nil
}

// RegisterRoutes registers all API routes on the provided Huma router.
// This is the single source of truth for the API route structure.
// Returns the API path prefix (e.g., "/api/v1") under which the routes are created.
func RegisterRoutes(router huma.API, handlers Handlers) (string, error) {
	if router == nil || reflect.ValueOf(router).IsNil() {
		return "", fmt.Errorf("router cannot be nil")
	}
	if err := handlers.Validate(); err != nil {
		return "", err
	}

	// Extract API version from the router's OpenAPI spec.
	apiVersionID := router.OpenAPI().Info.Version

	// Safe way to ensure /api/{version}.
	apiPathPrefix, err := url.JoinPath("/api", apiVersionID)
	if err != nil {
		return "", fmt.Errorf("failed to construct API path prefix: %w", err)
	}

	// Group all routes under the /api/{version} prefix.
	versionedGroup := huma.NewGroup(router, apiPathPrefix)
	RegisterHealthRoutes(versionedGroup, handlers.Health, "/health")
	RegisterServerRoutes(versionedGroup, handlers.Inventory, "/servers")
	RegisterToolRoutes(versionedGroup, handlers.Catalog, "/tools")
	RegisterCacheRoutes(versionedGroup, handlers.Cache, "/cache")
	RegisterRuntimeRoutes(versionedGroup, handlers.Runtime, "")

	return apiPathPrefix, nil
}
