package daemon

import (
	stdErrors "errors"
	"fmt"
	"reflect"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcpshield/internal/audit"
	"github.com/mozilla-ai/mcpshield/internal/breaker"
	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
	"github.com/mozilla-ai/mcpshield/internal/lazy"
	"github.com/mozilla-ai/mcpshield/internal/metrics"
	"github.com/mozilla-ai/mcpshield/internal/pool"
	"github.com/mozilla-ai/mcpshield/internal/provider"
	"github.com/mozilla-ai/mcpshield/internal/routing"
	"github.com/mozilla-ai/mcpshield/internal/secrets"
	"github.com/mozilla-ai/mcpshield/internal/server"
)

// GatewayDependencies contains the components a Gateway forwards requests through.
type GatewayDependencies struct {
	Logger hclog.Logger

	// Servers is the inventory of managed MCP servers.
	Servers *server.Manager

	// Pool provides the connections requests are forwarded over.
	Pool *pool.Pool

	// Breakers holds one circuit breaker per server.
	Breakers *breaker.Manager

	// Router picks a server for requests sent to /mcp.
	Router *routing.Router

	// Loader serves tools/list and meta-tool calls.
	Loader *lazy.Loader

	// Providers holds the MCP servers and skills as tool providers.
	Providers *provider.Registry

	// IDs allocates the ids of forwarded requests.
	IDs *jsonrpc.Generator

	// Audit receives request, denial and suspicious-activity events.
	Audit audit.Sink

	// Metrics records per-server counters.
	Metrics metrics.Recorder

	// Scanner checks tool arguments for secrets. Nil disables scanning.
	Scanner *secrets.Scanner
}

// Validate ensures all required dependencies are provided.
func (d GatewayDependencies) Validate() error {
	var errs []error

	required := []struct {
		name  string
		value any
	}{
		{"logger", d.Logger},
		{"server manager", d.Servers},
		{"connection pool", d.Pool},
		{"circuit breakers", d.Breakers},
		{"router", d.Router},
		{"lazy loader", d.Loader},
		{"provider registry", d.Providers},
		{"id generator", d.IDs},
		{"audit sink", d.Audit},
		{"metrics recorder", d.Metrics},
	}
	for _, r := range required {
		if isNil(r.value) {
			errs = append(errs, fmt.Errorf("%s cannot be nil", r.name))
		}
	}

	return stdErrors.Join(errs...)
}

// isNil reports whether v is nil or a typed nil pointer, map, slice or interface.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
