package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mozilla-ai/mcpshield/internal/cache"
	"github.com/mozilla-ai/mcpshield/internal/contracts"
)

// CacheStatsResponse represents the wrapped API response for the schema cache statistics.
type CacheStatsResponse struct {
	Body cache.Stats
}

// CacheClearRequest selects which cached schemas to drop.
type CacheClearRequest struct {
	Server string `doc:"Only clear the schemas of this server" example:"filesystem" query:"server"`
}

// CacheClearResponse confirms a cache clear.
type CacheClearResponse struct {
	Body struct {
		Cleared string `doc:"Server whose entries were cleared, or 'all'" json:"cleared"`
	}
}

// RegisterCacheRoutes sets up the schema cache endpoints.
func RegisterCacheRoutes(routerAPI huma.API, admin contracts.SchemaCacheAdmin, apiPathPrefix string) {
	cacheAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Cache"}

	huma.Register(
		cacheAPI,
		huma.Operation{
			OperationID: "getCacheStats",
			Method:      http.MethodGet,
			Path:        "/stats",
			Summary:     "Get schema cache statistics",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*CacheStatsResponse, error) {
			return &CacheStatsResponse{Body: admin.CacheStats()}, nil
		},
	)

	huma.Register(
		cacheAPI,
		huma.Operation{
			OperationID: "clearCache",
			Method:      http.MethodDelete,
			Summary:     "Clear cached schemas",
			Tags:        tags,
		},
		func(ctx context.Context, input *CacheClearRequest) (*CacheClearResponse, error) {
			return handleCacheClear(admin, input.Server)
		},
	)
}

func handleCacheClear(admin contracts.SchemaCacheAdmin, server string) (*CacheClearResponse, error) {
	admin.ClearCache(server)

	resp := &CacheClearResponse{}
	resp.Body.Cleared = server
	if server == "" {
		resp.Body.Cleared = "all"
	}

	return resp, nil
}
