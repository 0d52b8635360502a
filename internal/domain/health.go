package domain

import (
	"context"
	stdErrors "errors"
	"time"

	"github.com/mozilla-ai/mcpshield/internal/errors"
)

const (
	HealthStatusOK          HealthStatus = "ok"
	HealthStatusTimeout     HealthStatus = "timeout"
	HealthStatusUnreachable HealthStatus = "unreachable"
	HealthStatusUnknown     HealthStatus = "unknown"
)

// HealthStatus is the outcome of the most recent ping of an upstream MCP server.
type HealthStatus string

// Routable reports whether the router may send requests to a server in this state.
func (s HealthStatus) Routable() bool {
	return s == HealthStatusOK
}

// PingStatus classifies the error returned by a ping.
// A server that answered, even with a JSON-RPC error, is reachable, so only transport failures count.
func PingStatus(err error) HealthStatus {
	switch {
	case err == nil:
		return HealthStatusOK
	case stdErrors.Is(err, context.DeadlineExceeded), errors.KindOf(err) == errors.KindTimeout:
		return HealthStatusTimeout
	default:
		return HealthStatusUnreachable
	}
}

// ServerHealth is the ping history of an upstream MCP server.
type ServerHealth struct {
	Name           string
	Status         HealthStatus
	Latency        *time.Duration
	LastChecked    *time.Time
	LastSuccessful *time.Time

	// ConsecutiveFailures counts the pings since the last successful one.
	ConsecutiveFailures int
}
