// Package secrets detects leaked credentials in tool-call arguments using the gitleaks rule set.
package secrets

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/viper"
	"github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"

	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
)

// Finding is one detected secret. The secret value itself is never retained.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`

	// Path locates the string in the arguments, e.g. "headers.authorization" or "items[2]".
	Path string `json:"path"`
}

// Scanner runs gitleaks rules over JSON values.
type Scanner struct {
	logger hclog.Logger

	// mu serializes detector use.
	mu       sync.Mutex
	detector *detect.Detector
}

// Option configures a Scanner.
type Option func(*options) error

type options struct {
	rulesFile string
}

// WithRulesFile loads gitleaks rules from a TOML file instead of the built-in set.
func WithRulesFile(path string) Option {
	return func(o *options) error {
		o.rulesFile = strings.TrimSpace(path)
		return nil
	}
}

// New builds a scanner.
func New(logger hclog.Logger, opts ...Option) (*Scanner, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	var o options
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	detector, err := newDetector(o.rulesFile)
	if err != nil {
		return nil, err
	}

	return &Scanner{
		logger:   logger.Named("secrets"),
		detector: detector,
	}, nil
}

func newDetector(rulesFile string) (*detect.Detector, error) {
	if rulesFile == "" {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return nil, fmt.Errorf("loading default secret rules: %w", err)
		}
		return d, nil
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.SetConfigFile(rulesFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading secret rules %s: %w", rulesFile, err)
	}

	var vc config.ViperConfig
	if err := v.Unmarshal(&vc); err != nil {
		return nil, fmt.Errorf("decoding secret rules %s: %w", rulesFile, err)
	}

	cfg, err := vc.Translate()
	if err != nil {
		return nil, fmt.Errorf("translating secret rules %s: %w", rulesFile, err)
	}

	return detect.NewDetector(cfg), nil
}

// ScanString checks a single string.
func (s *Scanner) ScanString(text, path string) []Finding {
	if text == "" {
		return nil
	}

	s.mu.Lock()
	found := s.detector.DetectString(text)
	s.mu.Unlock()

	out := make([]Finding, 0, len(found))
	for _, f := range found {
		out = append(out, Finding{RuleID: f.RuleID, Description: f.Description, Path: path})
	}
	return out
}

// ScanJSON walks raw and checks every string value (object keys excluded).
func (s *Scanner) ScanJSON(raw json.RawMessage) ([]Finding, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decoding arguments: %w", err)
	}

	var out []Finding
	s.walk(v, "", &out)
	return out, nil
}

func (s *Scanner) walk(v any, path string, out *[]Finding) {
	switch val := v.(type) {
	case string:
		*out = append(*out, s.ScanString(val, path)...)
	case []any:
		for i, item := range val {
			s.walk(item, path+"["+strconv.Itoa(i)+"]", out)
		}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			p := k
			if path != "" {
				p = path + "." + k
			}
			s.walk(val[k], p, out)
		}
	}
}

// ScanRequest checks the arguments of a tools/call request. Other methods are not scanned.
func (s *Scanner) ScanRequest(req *jsonrpc.Request) ([]Finding, error) {
	if req == nil || req.Method != string(mcp.MethodToolsCall) || len(req.Params) == 0 {
		return nil, nil
	}

	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, fmt.Errorf("decoding tools/call params: %w", err)
	}

	findings, err := s.ScanJSON(params.Arguments)
	if err != nil {
		return nil, err
	}
	if len(findings) > 0 {
		s.logger.Warn("Secrets detected in tool arguments", "tool", params.Name, "count", len(findings))
	}

	return findings, nil
}

// RuleIDs returns the distinct rule ids in findings, sorted.
func RuleIDs(findings []Finding) []string {
	ids := make([]string, 0, len(findings))
	for _, f := range findings {
		ids = append(ids, f.RuleID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}
