// Package routing picks the MCP server that should receive a request.
package routing

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
)

// Strategy selects how Route chooses a server.
type Strategy string

const (
	// FirstAvailable returns the first healthy server.
	FirstAvailable Strategy = "first_available"

	// MethodPrefix returns a healthy server mapped to a prefix found in the method.
	MethodPrefix Strategy = "method_prefix"

	// Capability matches tools/, resources/ and prompts/ methods to servers tagged with that capability.
	Capability Strategy = "capability"

	// RoundRobin cycles through healthy servers.
	RoundRobin Strategy = "round_robin"

	// Direct requires callers to name the server with RouteToServer.
	Direct Strategy = "direct"
)

// DefaultPriority is given to routes registered without one.
const DefaultPriority = 100

const msgNoHealthy = "No healthy servers available"

// ParseStrategy converts s into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case FirstAvailable, MethodPrefix, Capability, RoundRobin, Direct:
		return st, nil
	case "":
		return Capability, nil
	default:
		return "", fmt.Errorf("unknown routing strategy: %q", s)
	}
}

// Route describes a registered server.
type Route struct {
	Name     string   `json:"name"`
	Tags     []string `json:"tags,omitempty"`
	Priority int      `json:"priority"`
	Healthy  bool     `json:"healthy"`
	Load     uint64   `json:"load"`
}

type prefixMapping struct {
	prefix  string
	servers []string
}

// Router routes JSON-RPC requests to registered servers.
// Routes are scanned in descending priority, then registration order.
// It is safe for concurrent use.
type Router struct {
	logger   hclog.Logger
	strategy Strategy
	counter  atomic.Uint64

	mu       sync.RWMutex
	routes   []*Route
	prefixes []prefixMapping
}

// New creates a router that uses strategy.
func New(logger hclog.Logger, strategy Strategy) (*Router, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}
	if strategy == "" {
		strategy = Capability
	}

	return &Router{
		logger:   logger.Named("router"),
		strategy: strategy,
	}, nil
}

// Strategy returns the configured strategy.
func (r *Router) Strategy() Strategy {
	return r.strategy
}

// Register adds or replaces the route named name as healthy with the default priority.
func (r *Router) Register(name string, tags []string) {
	r.RegisterRoute(Route{Name: name, Tags: tags, Priority: DefaultPriority, Healthy: true})
}

// RegisterRoute adds or replaces a route.
func (r *Router) RegisterRoute(route Route) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt := route
	rt.Tags = slices.Clone(route.Tags)

	if i := r.indexOf(route.Name); i >= 0 {
		r.routes = slices.Delete(r.routes, i, i+1)
	}

	// Insert after every route with priority >= this one to keep the scan order stable.
	at := len(r.routes)
	for i, existing := range r.routes {
		if existing.Priority < rt.Priority {
			at = i
			break
		}
	}
	r.routes = slices.Insert(r.routes, at, &rt)
}

// Unregister removes the route named name.
func (r *Router) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.indexOf(name); i >= 0 {
		r.routes = slices.Delete(r.routes, i, i+1)
	}
}

// SetHealthy updates the health flag of a route. Unknown names are ignored.
func (r *Router) SetHealthy(name string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.indexOf(name); i >= 0 && r.routes[i].Healthy != healthy {
		r.routes[i].Healthy = healthy
		r.logger.Debug("Route health changed", "server", name, "healthy", healthy)
	}
}

// SetLoad updates the load of a route. Unknown names are ignored.
func (r *Router) SetLoad(name string, load uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.indexOf(name); i >= 0 {
		r.routes[i].Load = load
	}
}

// AddPrefix maps a method prefix to servers, tried in order.
// Adding an existing prefix replaces its servers.
func (r *Router) AddPrefix(prefix string, servers ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.prefixes {
		if r.prefixes[i].prefix == prefix {
			r.prefixes[i].servers = slices.Clone(servers)
			return
		}
	}
	r.prefixes = append(r.prefixes, prefixMapping{prefix: prefix, servers: slices.Clone(servers)})
}

// Routes returns a copy of the registered routes in scan order.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Route, 0, len(r.routes))
	for _, rt := range r.routes {
		c := *rt
		c.Tags = slices.Clone(rt.Tags)
		out = append(out, c)
	}
	return out
}

// Healthy returns the names of healthy routes in scan order.
func (r *Router) Healthy() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.healthy()
}

// Route picks a server for req according to the strategy.
func (r *Router) Route(req *jsonrpc.Request) (string, error) {
	if req == nil {
		return "", errors.InvalidRequest("request cannot be nil")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	switch r.strategy {
	case FirstAvailable:
		return r.firstAvailable()
	case MethodPrefix:
		return r.byMethodPrefix(req.Method)
	case RoundRobin:
		return r.roundRobin()
	case Direct:
		return "", errors.InvalidRequest("Direct routing requires explicit server name")
	default:
		return r.byCapability(req.Method)
	}
}

// RouteToServer returns name when it is registered and healthy.
func (r *Router) RouteToServer(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.indexOf(name)
	if i < 0 {
		return "", errors.ServerNotFound("Server '%s' not found", name)
	}
	if !r.routes[i].Healthy {
		return "", errors.ServerNotFound("Server '%s' is not healthy", name)
	}

	return name, nil
}

func (r *Router) firstAvailable() (string, error) {
	for _, rt := range r.routes {
		if rt.Healthy {
			return rt.Name, nil
		}
	}
	return "", errors.ServerNotFound(msgNoHealthy)
}

func (r *Router) byMethodPrefix(method string) (string, error) {
	if name, ok := r.matchPrefix(method); ok {
		return name, nil
	}
	return r.firstAvailable()
}

func (r *Router) matchPrefix(method string) (string, bool) {
	for _, p := range r.prefixes {
		if !strings.HasPrefix(method, p.prefix) && !strings.Contains(method, strings.TrimSuffix(p.prefix, "/")) {
			continue
		}
		for _, server := range p.servers {
			if i := r.indexOf(server); i >= 0 && r.routes[i].Healthy {
				r.logger.Debug("Routed by prefix", "method", method, "server", server, "prefix", p.prefix)
				return server, true
			}
		}
	}
	return "", false
}

func (r *Router) byCapability(method string) (string, error) {
	if capability, ok := capabilityOf(method); ok {
		for _, rt := range r.routes {
			if rt.Healthy && slices.Contains(rt.Tags, capability) {
				r.logger.Debug("Routed by capability", "method", method, "server", rt.Name, "capability", capability)
				return rt.Name, nil
			}
		}
	}

	if name, ok := r.matchPrefix(method); ok {
		return name, nil
	}

	return r.leastLoaded()
}

func (r *Router) roundRobin() (string, error) {
	healthy := r.healthy()
	if len(healthy) == 0 {
		return "", errors.ServerNotFound(msgNoHealthy)
	}

	n := r.counter.Add(1) - 1
	return healthy[n%uint64(len(healthy))], nil
}

func (r *Router) leastLoaded() (string, error) {
	var best *Route
	for _, rt := range r.routes {
		if rt.Healthy && (best == nil || rt.Load < best.Load) {
			best = rt
		}
	}
	if best == nil {
		return "", errors.ServerNotFound(msgNoHealthy)
	}
	return best.Name, nil
}

func (r *Router) healthy() []string {
	var out []string
	for _, rt := range r.routes {
		if rt.Healthy {
			out = append(out, rt.Name)
		}
	}
	return out
}

// indexOf must be called with mu held.
func (r *Router) indexOf(name string) int {
	return slices.IndexFunc(r.routes, func(rt *Route) bool { return rt.Name == name })
}

func capabilityOf(method string) (string, bool) {
	for _, c := range []string{"tools", "resources", "prompts"} {
		if strings.HasPrefix(method, c+"/") {
			return c, true
		}
	}
	return "", false
}
