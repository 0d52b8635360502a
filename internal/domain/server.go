package domain

import (
	"encoding/json"
	"time"
)

// Server describes a managed MCP server.
type Server struct {
	Name        string
	Tags        []string
	Command     string
	Description string
	Transport   string
	Connected   bool
	StartedAt   time.Time
}

// BreakerState is a point-in-time view of a server's circuit breaker.
type BreakerState struct {
	State       string
	Failures    int
	Successes   int
	LastFailure time.Time
}

// PoolStats counts the pooled connections of a server.
type PoolStats struct {
	Total     int
	Healthy   int
	Unhealthy int
}

// ServerStatus combines the description of a server with its runtime state.
type ServerStatus struct {
	Server
	Healthy bool
	Health  ServerHealth
	Breaker BreakerState
	Pool    PoolStats
}

// Tool is a tool schema together with the server or skill that provides it.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Server      string
}

// ToolQuery narrows a tool listing. Empty fields match everything.
type ToolQuery struct {
	Server string
	Tag    string
}
