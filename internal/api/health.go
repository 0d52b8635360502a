package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mozilla-ai/mcpshield/internal/contracts"
	"github.com/mozilla-ai/mcpshield/internal/domain"
)

const (
	HealthStatusOK          HealthStatus = "ok"
	HealthStatusTimeout     HealthStatus = "timeout"
	HealthStatusUnreachable HealthStatus = "unreachable"
	HealthStatusUnknown     HealthStatus = "unknown"
)

// DomainServerHealth is a wrapper that allows receivers to be declared in the API package that deal with domain types.
type DomainServerHealth domain.ServerHealth

// HealthStatus is the outcome of the most recent ping of an upstream server.
type HealthStatus string

// ServerHealth reports the ping results of one upstream server.
type ServerHealth struct {
	Name           string       `json:"name"`
	Status         HealthStatus `json:"status"`
	Latency        *string      `json:"latency,omitempty"`
	LastChecked    *time.Time   `json:"lastChecked,omitempty"`
	LastSuccessful *time.Time   `json:"lastSuccessful,omitempty"`
	Failures       int          `json:"consecutiveFailures"`
}

// HealthSummary counts tracked servers by status.
type HealthSummary struct {
	Total       int `json:"total"`
	OK          int `json:"ok"`
	Timeout     int `json:"timeout"`
	Unreachable int `json:"unreachable"`
	Unknown     int `json:"unknown"`
}

// ServersHealthResponse is the response for GET /health/servers.
type ServersHealthResponse struct {
	Body struct {
		Servers []ServerHealth `doc:"Tracked MCP server health statuses" json:"servers"`
		Summary HealthSummary  `doc:"Server counts by status"            json:"summary"`
	}
}

// ServerHealthRequest represents the incoming request for obtaining ServerHealth.
type ServerHealthRequest struct {
	Name string `doc:"Name of the server to check" example:"filesystem" path:"name"`
}

// ServerHealthResponse represents the wrapped API response for a ServerHealth.
type ServerHealthResponse struct {
	Body ServerHealth
}

// ToAPIType can be used to convert a wrapped domain type to an API-safe type.
func (d DomainServerHealth) ToAPIType() (ServerHealth, error) {
	status, err := parseHealthStatus(d.Status)
	if err != nil {
		return ServerHealth{}, err
	}

	var latency *string
	if d.Latency != nil {
		s := d.Latency.String()
		latency = &s
	}
	return ServerHealth{
		Name:           d.Name,
		Status:         status,
		Latency:        latency,
		LastChecked:    d.LastChecked,
		LastSuccessful: d.LastSuccessful,
		Failures:       d.ConsecutiveFailures,
	}, nil
}

// RegisterHealthRoutes sets up the upstream health endpoints.
func RegisterHealthRoutes(routerAPI huma.API, monitor contracts.MCPHealthMonitor, apiPathPrefix string) {
	healthAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Health"}

	huma.Register(
		healthAPI,
		huma.Operation{
			OperationID: "listServersHealth",
			Method:      http.MethodGet,
			Path:        "/servers",
			Summary:     "List the health statuses for all servers",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*ServersHealthResponse, error) {
			return handleHealthServers(monitor)
		},
	)

	huma.Register(
		healthAPI,
		huma.Operation{
			OperationID: "getServerHealth",
			Method:      http.MethodGet,
			Path:        "/servers/{name}",
			Summary:     "Get the health status of a server",
			Tags:        tags,
		},
		func(ctx context.Context, input *ServerHealthRequest) (*ServerHealthResponse, error) {
			return handleHealthServer(monitor, input.Name)
		},
	)
}

func handleHealthServers(monitor contracts.MCPHealthMonitor) (*ServersHealthResponse, error) {
	servers := monitor.List()

	resp := &ServersHealthResponse{}
	resp.Body.Servers = make([]ServerHealth, 0, len(servers))
	for _, s := range servers {
		data, err := DomainServerHealth(s).ToAPIType()
		if err != nil {
			return nil, err
		}
		resp.Body.Servers = append(resp.Body.Servers, data)
		resp.Body.Summary.add(data.Status)
	}

	return resp, nil
}

func handleHealthServer(monitor contracts.MCPHealthMonitor, name string) (*ServerHealthResponse, error) {
	health, err := monitor.Status(name)
	if err != nil {
		return nil, err
	}

	data, err := DomainServerHealth(health).ToAPIType()
	if err != nil {
		return nil, err
	}

	return &ServerHealthResponse{Body: data}, nil
}

func (s *HealthSummary) add(status HealthStatus) {
	s.Total++
	switch status {
	case HealthStatusOK:
		s.OK++
	case HealthStatusTimeout:
		s.Timeout++
	case HealthStatusUnreachable:
		s.Unreachable++
	default:
		s.Unknown++
	}
}

func parseHealthStatus(status domain.HealthStatus) (HealthStatus, error) {
	switch status {
	case domain.HealthStatusOK:
		return HealthStatusOK, nil
	case domain.HealthStatusTimeout:
		return HealthStatusTimeout, nil
	case domain.HealthStatusUnreachable:
		return HealthStatusUnreachable, nil
	case domain.HealthStatusUnknown:
		return HealthStatusUnknown, nil
	default:
		return "", fmt.Errorf("unknown health status: %s", status)
	}
}
