// Package scope restricts what an authenticated caller may see and invoke.
//
// Scopes are strings attached to a session:
//
//	*            every server and every tool
//	tag:<tag>    servers carrying <tag>
//	tool:<name>  only the listed tools (repeatable)
//	-tool:<name> never <name>, even under *
//
// A scope set without any tag: entry may access every server.
package scope

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
)

const (
	// Wildcard grants every server and tool.
	Wildcard = "*"

	prefixTag        = "tag:"
	prefixTool       = "tool:"
	prefixDeniedTool = "-tool:"
)

// Filter holds the partitioned scopes of one session.
type Filter struct {
	wildcard     bool
	allowedTags  map[string]struct{}
	allowedTools map[string]struct{} // nil allows every tool.
	deniedTools  map[string]struct{}
}

// New partitions scopes into a Filter.
func New(scopes []string) *Filter {
	f := &Filter{
		allowedTags: map[string]struct{}{},
		deniedTools: map[string]struct{}{},
	}

	for _, s := range scopes {
		switch {
		case s == Wildcard:
			f.wildcard = true
		case strings.HasPrefix(s, prefixTag):
			f.allowedTags[strings.TrimPrefix(s, prefixTag)] = struct{}{}
		case strings.HasPrefix(s, prefixTool):
			if f.allowedTools == nil {
				f.allowedTools = map[string]struct{}{}
			}
			f.allowedTools[strings.TrimPrefix(s, prefixTool)] = struct{}{}
		case strings.HasPrefix(s, prefixDeniedTool):
			f.deniedTools[strings.TrimPrefix(s, prefixDeniedTool)] = struct{}{}
		}
	}

	if f.wildcard {
		f.allowedTools = nil
	}

	return f
}

// Wildcard reports whether the filter was built with "*".
func (f *Filter) Wildcard() bool {
	return f.wildcard
}

// CanAccessServer reports whether a server carrying tags is visible.
func (f *Filter) CanAccessServer(tags []string) bool {
	if f.wildcard || len(f.allowedTags) == 0 {
		return true
	}

	return slices.ContainsFunc(tags, func(t string) bool {
		_, ok := f.allowedTags[t]
		return ok
	})
}

// CanUseTool reports whether the tool named name may be listed and invoked.
func (f *Filter) CanUseTool(name string) bool {
	if _, denied := f.deniedTools[name]; denied {
		return false
	}
	if f.allowedTools == nil {
		return true
	}

	_, ok := f.allowedTools[name]
	return ok
}

// FilterRequest checks a tools/call or tools/invoke request.
// It returns the denied tool name and false when the call is not allowed.
// Other methods are always allowed.
func (f *Filter) FilterRequest(req *jsonrpc.Request) (string, bool) {
	if req.Method != "tools/call" && req.Method != "tools/invoke" {
		return "", true
	}

	var params struct {
		Name string `json:"name"`
	}
	if len(req.Params) == 0 || json.Unmarshal(req.Params, &params) != nil || params.Name == "" {
		return "", true
	}

	if !f.CanUseTool(params.Name) {
		return params.Name, false
	}

	return "", true
}

// FilterToolsList removes the tools the filter denies from a tools/list response.
// Entries without a name are kept. Responses without a tools array are returned unchanged.
func (f *Filter) FilterToolsList(resp *jsonrpc.Response) error {
	if resp == nil || resp.Error != nil || len(resp.Result) == 0 {
		return nil
	}

	var result map[string]json.RawMessage
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil
	}

	raw, ok := result["tools"]
	if !ok {
		return nil
	}

	var tools []json.RawMessage
	if err := json.Unmarshal(raw, &tools); err != nil {
		return nil
	}

	kept := tools[:0]
	for _, tool := range tools {
		var named struct {
			Name *string `json:"name"`
		}
		if err := json.Unmarshal(tool, &named); err == nil && named.Name != nil && !f.CanUseTool(*named.Name) {
			continue
		}
		kept = append(kept, tool)
	}

	encoded, err := json.Marshal(kept)
	if err != nil {
		return fmt.Errorf("encoding filtered tools: %w", err)
	}
	result["tools"] = encoded

	out, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding filtered result: %w", err)
	}
	resp.Result = out

	return nil
}

// DeniedResponse builds the error response returned when resource is denied.
func DeniedResponse(id *jsonrpc.ID, resource string) *jsonrpc.Response {
	return jsonrpc.NewErrorResponse(
		id,
		jsonrpc.CodeAccessDenied,
		fmt.Sprintf("Access denied: '%s' is not allowed by your scopes", resource),
	)
}
