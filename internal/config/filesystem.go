package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mozilla-ai/mcpshield/internal/sandbox"
)

// Filesystem is the filesystem constraint of a sandboxed server.
// In configuration files it is either the string "readonly", the string "full",
// or an array of absolute paths the server may read and write.
type Filesystem struct {
	Mode  sandbox.FilesystemMode
	Paths []string
}

// UnmarshalTOML implements toml.Unmarshaler.
func (f *Filesystem) UnmarshalTOML(v any) error {
	switch val := v.(type) {
	case string:
		return f.setMode(val)
	case []any:
		paths := make([]string, 0, len(val))
		for _, p := range val {
			s, ok := p.(string)
			if !ok {
				return fmt.Errorf("filesystem paths must be strings, got %T", p)
			}
			paths = append(paths, s)
		}
		f.Mode = sandbox.FilesystemPaths
		f.Paths = paths
		return nil
	default:
		return fmt.Errorf("filesystem must be \"readonly\", \"full\" or a list of paths, got %T", v)
	}
}

// UnmarshalJSON accepts the same shapes as UnmarshalTOML.
func (f *Filesystem) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return f.setMode(s)
	}

	var paths []string
	if err := json.Unmarshal(data, &paths); err != nil {
		return fmt.Errorf("filesystem must be \"readonly\", \"full\" or a list of paths: %w", err)
	}
	f.Mode = sandbox.FilesystemPaths
	f.Paths = paths

	return nil
}

// MarshalJSON writes the configuration-file form.
func (f Filesystem) MarshalJSON() ([]byte, error) {
	if f.Mode == sandbox.FilesystemPaths {
		return json.Marshal(f.Paths)
	}
	return json.Marshal(string(f.Mode))
}

// MarshalTOML writes the configuration-file form.
func (f Filesystem) MarshalTOML() ([]byte, error) {
	return f.MarshalJSON()
}

func (f *Filesystem) setMode(s string) error {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "readonly", "read_only", "read-only":
		f.Mode = sandbox.FilesystemReadOnly
	case "full":
		f.Mode = sandbox.FilesystemFull
	default:
		return fmt.Errorf("unknown filesystem mode %q", s)
	}
	f.Paths = nil

	return nil
}
