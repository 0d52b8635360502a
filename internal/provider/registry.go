package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcpshield/internal/errors"
)

// Registry holds the providers by name.
// It is safe for concurrent use by multiple goroutines.
type Registry struct {
	logger hclog.Logger

	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry(logger hclog.Logger) (*Registry, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	return &Registry{
		logger:    logger.Named("providers"),
		providers: make(map[string]Provider),
	}, nil
}

// Register adds p, replacing any provider with the same name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[p.Name()]; ok {
		r.logger.Warn("Replacing provider", "provider", p.Name())
	}
	r.providers[p.Name()] = p
}

// Unregister removes the named provider.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.providers[name]
	delete(r.providers, name)
	return ok
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	return p, ok
}

// List returns the provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// ListByType returns the names of providers of type t, sorted.
func (r *Registry) ListByType(t Type) []string {
	var names []string
	for _, name := range r.List() {
		if p, ok := r.Get(name); ok && p.Type() == t {
			names = append(names, name)
		}
	}
	return names
}

// ListAllTools aggregates the tools of every provider.
// A provider that fails to list is logged and skipped.
func (r *Registry) ListAllTools(ctx context.Context) []Tool {
	var all []Tool
	for _, name := range r.List() {
		p, ok := r.Get(name)
		if !ok {
			continue
		}
		tools, err := p.ListTools(ctx)
		if err != nil {
			r.logger.Warn("Failed to list tools", "provider", name, "error", err)
			continue
		}
		all = append(all, tools...)
	}
	return all
}

// FindTool resolves "<provider>.<tool>".
// A name without a dot is an InvalidRequest error; an unknown provider or tool is a ServerNotFound error.
func (r *Registry) FindTool(ctx context.Context, fullName string) (Tool, Provider, error) {
	providerName, toolName, err := SplitToolName(fullName)
	if err != nil {
		return Tool{}, nil, err
	}

	p, ok := r.Get(providerName)
	if !ok {
		return Tool{}, nil, errors.ServerNotFound("provider '%s' not found", providerName)
	}

	tools, err := p.ListTools(ctx)
	if err != nil {
		return Tool{}, nil, err
	}

	i := slices.IndexFunc(tools, func(t Tool) bool { return t.DisplayName() == toolName })
	if i < 0 {
		return Tool{}, nil, errors.ServerNotFound("tool '%s' not found in provider '%s'", toolName, providerName)
	}

	return tools[i], p, nil
}

// CallTool resolves fullName and invokes it.
func (r *Registry) CallTool(ctx context.Context, fullName string, args json.RawMessage) (Result, error) {
	tool, p, err := r.FindTool(ctx, fullName)
	if err != nil {
		return Result{}, err
	}

	return p.CallTool(ctx, tool.Name, args)
}

// Info describes a registered provider.
type Info struct {
	Name      string `json:"name"`
	Type      Type   `json:"type"`
	Available bool   `json:"available"`
}

// Infos describes every provider, sorted by name.
func (r *Registry) Infos(ctx context.Context) []Info {
	var out []Info
	for _, name := range r.List() {
		if p, ok := r.Get(name); ok {
			out = append(out, Info{Name: name, Type: p.Type(), Available: p.IsAvailable(ctx)})
		}
	}
	return out
}
