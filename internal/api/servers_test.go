package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/mcpshield/internal/domain"
	"github.com/mozilla-ai/mcpshield/internal/errors"
)

func TestDomainServer_ToAPIType(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name   string
		input  domain.Server
		expect Server
	}{
		{
			name: "full server",
			input: domain.Server{
				Name:        "filesystem",
				Tags:        []string{"files"},
				Command:     "npx",
				Description: "Local files",
				Transport:   "stdio",
				Connected:   true,
				StartedAt:   started,
			},
			expect: Server{
				Name:        "filesystem",
				Tags:        []string{"files"},
				Command:     "npx",
				Description: "Local files",
				Transport:   "stdio",
				Connected:   true,
				StartedAt:   &started,
			},
		},
		{
			name:  "nil tags and zero start time",
			input: domain.Server{Name: "remote", Transport: "http"},
			expect: Server{
				Name:      "remote",
				Tags:      []string{},
				Transport: "http",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := DomainServer(tc.input).ToAPIType()
			require.NoError(t, err)
			require.Equal(t, tc.expect, got)
		})
	}
}

func TestDomainServerStatus_ToAPIType(t *testing.T) {
	t.Parallel()

	failed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	got, err := DomainServerStatus(domain.ServerStatus{
		Server:  domain.Server{Name: "fs", Transport: "stdio"},
		Healthy: true,
		Health:  domain.ServerHealth{Name: "fs", Status: domain.HealthStatusOK},
		Breaker: domain.BreakerState{State: "open", Failures: 5, LastFailure: failed},
		Pool:    domain.PoolStats{Total: 2, Healthy: 1, Unhealthy: 1},
	}).ToAPIType()
	require.NoError(t, err)

	require.Equal(t, "fs", got.Name)
	require.True(t, got.Healthy)
	require.Equal(t, HealthStatusOK, got.Health.Status)
	require.Equal(t, "open", got.CircuitBreaker.State)
	require.Equal(t, 5, got.CircuitBreaker.Failures)
	require.NotNil(t, got.CircuitBreaker.LastFailure)
	require.Equal(t, failed, *got.CircuitBreaker.LastFailure)
	require.Equal(t, ConnectionPool{Total: 2, Healthy: 1, Unhealthy: 1}, got.Pool)
}

func TestDomainServerStatus_ToAPIType_InvalidHealth(t *testing.T) {
	t.Parallel()

	_, err := DomainServerStatus(domain.ServerStatus{
		Server: domain.Server{Name: "fs"},
		Health: domain.ServerHealth{Name: "fs", Status: "bogus"},
	}).ToAPIType()
	require.Error(t, err)
}

func TestHandleServers(t *testing.T) {
	t.Parallel()

	inv := &mockInventory{servers: []domain.Server{
		{Name: "a", Transport: "stdio"},
		{Name: "b", Transport: "http", Tags: []string{"web"}},
	}}

	resp, err := handleServers(inv, &ServersRequest{})
	require.NoError(t, err)
	require.Equal(t, 2, resp.Body.Count)
	require.Equal(t, "a", resp.Body.Servers[0].Name)
	require.Equal(t, []string{"web"}, resp.Body.Servers[1].Tags)
}

func TestHandleServers_Filtered(t *testing.T) {
	t.Parallel()

	inv := &mockInventory{servers: []domain.Server{
		{Name: "filesystem", Transport: "stdio", Tags: []string{"files", "local"}, Connected: true},
		{Name: "drive", Transport: "sse", Tags: []string{"files", "remote"}},
		{Name: "github", Transport: "sse", Tags: []string{"remote"}, Connected: true},
	}}

	tests := []struct {
		name  string
		input ServersRequest
		want  []string
	}{
		{name: "no filters", input: ServersRequest{}, want: []string{"filesystem", "drive", "github"}},
		{name: "by tag", input: ServersRequest{Tag: "files"}, want: []string{"filesystem", "drive"}},
		{name: "by every tag", input: ServersRequest{Tag: "files,remote"}, want: []string{"drive"}},
		{name: "by transport and state", input: ServersRequest{Transport: "SSE", Connected: "true"}, want: []string{"github"}},
		{name: "by partial name", input: ServersRequest{Name: "hub"}, want: []string{"github"}},
		{name: "no match", input: ServersRequest{Name: "slack"}, want: []string{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			resp, err := handleServers(inv, &tc.input)
			require.NoError(t, err)

			names := []string{}
			for _, s := range resp.Body.Servers {
				names = append(names, s.Name)
			}
			require.Equal(t, tc.want, names)
			require.Equal(t, len(tc.want), resp.Body.Count)
		})
	}
}

func TestHandleServers_Empty(t *testing.T) {
	t.Parallel()

	resp, err := handleServers(&mockInventory{}, nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Body.Servers)
	require.Empty(t, resp.Body.Servers)
	require.Zero(t, resp.Body.Count)
}

func TestHandleServer(t *testing.T) {
	t.Parallel()

	inv := &mockInventory{statuses: map[string]domain.ServerStatus{
		"fs": {
			Server: domain.Server{Name: "fs"},
			Health: domain.ServerHealth{Name: "fs", Status: domain.HealthStatusUnknown},
			Breaker: domain.BreakerState{
				State: "closed",
			},
		},
	}}

	resp, err := handleServer(inv, "fs")
	require.NoError(t, err)
	require.Equal(t, "closed", resp.Body.CircuitBreaker.State)
	require.Nil(t, resp.Body.CircuitBreaker.LastFailure)

	_, err = handleServer(inv, "missing")
	require.ErrorIs(t, err, errors.ErrServerNotFound)
}
