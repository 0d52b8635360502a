package api

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/mcpshield/internal/domain"
	"github.com/mozilla-ai/mcpshield/internal/errors"
)

func TestParseHealthStatus_ValidCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    domain.HealthStatus
		expected HealthStatus
	}{
		{
			"ok",
			domain.HealthStatusOK,
			HealthStatusOK,
		},
		{
			"timeout",
			domain.HealthStatusTimeout,
			HealthStatusTimeout,
		},
		{
			"unreachable",
			domain.HealthStatusUnreachable,
			HealthStatusUnreachable,
		},
		{
			"unknown",
			domain.HealthStatusUnknown,
			HealthStatusUnknown,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseHealthStatus(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.expected, got)
		})
	}
}

func TestParseHealthStatus_InvalidCase(t *testing.T) {
	t.Parallel()

	input := domain.HealthStatus("invalid-status")
	_, err := parseHealthStatus(input)
	require.Error(t, err)
	require.EqualError(t, err, fmt.Sprintf("unknown health status: %s", input))
}

func TestHandleHealthServers_Summary(t *testing.T) {
	t.Parallel()

	latency := 12 * time.Millisecond
	monitor := &mockHealthMonitor{statuses: []domain.ServerHealth{
		{Name: "a", Status: domain.HealthStatusOK, Latency: &latency},
		{Name: "b", Status: domain.HealthStatusTimeout, ConsecutiveFailures: 3},
		{Name: "c", Status: domain.HealthStatusUnreachable},
		{Name: "d", Status: domain.HealthStatusUnknown},
		{Name: "e", Status: domain.HealthStatusOK},
	}}

	resp, err := handleHealthServers(monitor)
	require.NoError(t, err)
	require.Len(t, resp.Body.Servers, 5)
	require.Equal(t, HealthSummary{Total: 5, OK: 2, Timeout: 1, Unreachable: 1, Unknown: 1}, resp.Body.Summary)
	require.NotNil(t, resp.Body.Servers[0].Latency)
	require.Equal(t, "12ms", *resp.Body.Servers[0].Latency)
	require.Zero(t, resp.Body.Servers[0].Failures)
	require.Equal(t, 3, resp.Body.Servers[1].Failures)
}

func TestHandleHealthServer(t *testing.T) {
	t.Parallel()

	monitor := &mockHealthMonitor{statuses: []domain.ServerHealth{
		{Name: "a", Status: domain.HealthStatusOK},
	}}

	resp, err := handleHealthServer(monitor, "a")
	require.NoError(t, err)
	require.Equal(t, HealthStatusOK, resp.Body.Status)

	_, err = handleHealthServer(monitor, "missing")
	require.ErrorIs(t, err, errors.ErrServerNotFound)
}
