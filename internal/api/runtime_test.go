package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/mcpshield/internal/cache"
	"github.com/mozilla-ai/mcpshield/internal/lazy"
	"github.com/mozilla-ai/mcpshield/internal/metrics"
	"github.com/mozilla-ai/mcpshield/internal/provider"
)

func TestHandleMetrics(t *testing.T) {
	t.Parallel()

	reporter := &mockReporter{
		snapshot: metrics.Snapshot{TotalRequests: 7, TotalErrors: 1},
		mode:     lazy.Hybrid,
		lazy:     lazy.LoaderMetrics{SchemaFetches: 3, CacheHits: 2},
	}

	resp := handleMetrics(reporter)
	require.Equal(t, uint64(7), resp.Body.Proxy.TotalRequests)
	require.Equal(t, lazy.Hybrid, resp.Body.LazyLoading.Mode)
	require.Equal(t, uint64(3), resp.Body.LazyLoading.Metrics.SchemaFetches)
}

func TestHandleProviders(t *testing.T) {
	t.Parallel()

	t.Run("no providers", func(t *testing.T) {
		t.Parallel()

		resp := handleProviders(context.Background(), &mockReporter{})
		require.NotNil(t, resp.Body.Providers)
		require.Zero(t, resp.Body.Count)
	})

	t.Run("with providers", func(t *testing.T) {
		t.Parallel()

		reporter := &mockReporter{providers: []provider.Info{
			{Name: "fs", Type: provider.TypeMCPStdio, Available: true},
			{Name: "pdf", Type: provider.TypeSkill},
		}}
		resp := handleProviders(context.Background(), reporter)
		require.Equal(t, 2, resp.Body.Count)
		require.Equal(t, "pdf", resp.Body.Providers[1].Name)
	})
}

func TestHandleCacheClear(t *testing.T) {
	t.Parallel()

	admin := &mockCacheAdmin{stats: cache.Stats{Tools: 4}}

	resp, err := handleCacheClear(admin, "")
	require.NoError(t, err)
	require.Equal(t, "all", resp.Body.Cleared)

	resp, err = handleCacheClear(admin, "fs")
	require.NoError(t, err)
	require.Equal(t, "fs", resp.Body.Cleared)

	require.Equal(t, []string{"", "fs"}, admin.cleared)
}
