package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mozilla-ai/mcpshield/internal/contracts"
	"github.com/mozilla-ai/mcpshield/internal/domain"
	"github.com/mozilla-ai/mcpshield/internal/filter"
)

// DomainServer wraps domain.Server for conversion via ToAPIType.
type DomainServer domain.Server

// DomainServerStatus wraps domain.ServerStatus for conversion via ToAPIType.
type DomainServerStatus domain.ServerStatus

// Server describes a configured upstream MCP server.
type Server struct {
	Name        string     `json:"name"`
	Tags        []string   `json:"tags"`
	Command     string     `json:"command,omitempty"`
	Description string     `json:"description,omitempty"`
	Transport   string     `json:"transport"`
	Connected   bool       `json:"connected"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
}

// CircuitBreaker is the state of the breaker guarding a server.
type CircuitBreaker struct {
	State       string     `enum:"closed,open,half_open" json:"state"`
	Failures    int        `json:"failures"`
	Successes   int        `json:"successes"`
	LastFailure *time.Time `json:"lastFailure,omitempty"`
}

// ConnectionPool counts the pooled connections of a server.
type ConnectionPool struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
}

// ServerStatus is a server together with its runtime state.
type ServerStatus struct {
	Server
	Healthy        bool           `doc:"Whether the router considers the server eligible" json:"healthy"`
	Health         ServerHealth   `json:"health"`
	CircuitBreaker CircuitBreaker `json:"circuitBreaker"`
	Pool           ConnectionPool `json:"pool"`
}

// ServersResponse represents the wrapped API response for a list of servers.
type ServersResponse struct {
	Body struct {
		Servers []Server `doc:"Configured MCP servers" json:"servers"`
		Count   int      `doc:"Number of servers"      json:"count"`
	}
}

// ServersRequest filters the server listing. Empty fields do not filter.
type ServersRequest struct {
	Name      string `doc:"Only servers whose name contains this value"                   example:"file"        query:"name"`
	Tag       string `doc:"Only servers carrying every one of these comma separated tags" example:"files,local" query:"tag"`
	Transport string `doc:"Only servers using this transport"                             example:"stdio"       query:"transport"`
	Connected string `doc:"Only connected (true) or disconnected (false) servers"         example:"true"        query:"connected"`
}

// filters returns the request as filter key/value pairs.
func (r *ServersRequest) filters() map[string]string {
	if r == nil {
		return nil
	}
	return map[string]string{
		"name":      r.Name,
		"tag":       r.Tag,
		"transport": r.Transport,
		"connected": r.Connected,
	}
}

// serverMatchers are the filters supported by the server listing.
var serverMatchers = filter.Matchers[domain.Server]{
	"name":      filter.Partial(func(s domain.Server) string { return s.Name }),
	"tag":       filter.HasAll(func(s domain.Server) []string { return s.Tags }),
	"transport": filter.Equals(func(s domain.Server) string { return s.Transport }),
	"connected": filter.EqualsBool(func(s domain.Server) bool { return s.Connected }),
}

// ServerRequest represents the incoming API request for a single server.
type ServerRequest struct {
	Name string `doc:"Name of the server" example:"filesystem" path:"name"`
}

// ServerStatusResponse represents the wrapped API response for ServerStatus.
type ServerStatusResponse struct {
	Body ServerStatus
}

// ToAPIType can be used to convert a wrapped domain type to an API-safe type.
func (d DomainServer) ToAPIType() (Server, error) {
	tags := slices.Clone(d.Tags)
	if tags == nil {
		tags = []string{}
	}

	var started *time.Time
	if !d.StartedAt.IsZero() {
		s := d.StartedAt.UTC()
		started = &s
	}

	return Server{
		Name:        d.Name,
		Tags:        tags,
		Command:     d.Command,
		Description: d.Description,
		Transport:   d.Transport,
		Connected:   d.Connected,
		StartedAt:   started,
	}, nil
}

// ToAPIType can be used to convert a wrapped domain type to an API-safe type.
func (d DomainServerStatus) ToAPIType() (ServerStatus, error) {
	srv, err := DomainServer(d.Server).ToAPIType()
	if err != nil {
		return ServerStatus{}, err
	}

	health, err := DomainServerHealth(d.Health).ToAPIType()
	if err != nil {
		return ServerStatus{}, err
	}

	var lastFailure *time.Time
	if !d.Breaker.LastFailure.IsZero() {
		lf := d.Breaker.LastFailure.UTC()
		lastFailure = &lf
	}

	return ServerStatus{
		Server:  srv,
		Healthy: d.Healthy,
		Health:  health,
		CircuitBreaker: CircuitBreaker{
			State:       d.Breaker.State,
			Failures:    d.Breaker.Failures,
			Successes:   d.Breaker.Successes,
			LastFailure: lastFailure,
		},
		Pool: ConnectionPool{
			Total:     d.Pool.Total,
			Healthy:   d.Pool.Healthy,
			Unhealthy: d.Pool.Unhealthy,
		},
	}, nil
}

// RegisterServerRoutes sets up the server inventory endpoints.
func RegisterServerRoutes(routerAPI huma.API, inventory contracts.MCPServerInventory, apiPathPrefix string) {
	serversAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Servers"}

	// Add route at the root of the group (no path specified).
	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "listServers",
			Method:      http.MethodGet,
			Summary:     "List servers, optionally filtered by name, tag, transport or connection state",
			Tags:        tags,
		},
		func(ctx context.Context, input *ServersRequest) (*ServersResponse, error) {
			return handleServers(inventory, input)
		},
	)

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "getServer",
			Method:      http.MethodGet,
			Path:        "/{name}",
			Summary:     "Get a server with its health, circuit breaker and pool state",
			Tags:        tags,
		},
		func(ctx context.Context, input *ServerRequest) (*ServerStatusResponse, error) {
			return handleServer(inventory, input.Name)
		},
	)
}

func handleServers(inventory contracts.MCPServerInventory, input *ServersRequest) (*ServersResponse, error) {
	servers := filter.Filter(inventory.List(), input.filters(), serverMatchers)

	resp := &ServersResponse{}
	resp.Body.Servers = make([]Server, 0, len(servers))
	for _, s := range servers {
		data, err := DomainServer(s).ToAPIType()
		if err != nil {
			return nil, err
		}
		resp.Body.Servers = append(resp.Body.Servers, data)
	}
	resp.Body.Count = len(resp.Body.Servers)

	return resp, nil
}

func handleServer(inventory contracts.MCPServerInventory, name string) (*ServerStatusResponse, error) {
	status, err := inventory.Status(name)
	if err != nil {
		return nil, err
	}

	data, err := DomainServerStatus(status).ToAPIType()
	if err != nil {
		return nil, err
	}

	return &ServerStatusResponse{Body: data}, nil
}
