package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/files"
	"github.com/mozilla-ai/mcpshield/internal/sandbox"
)

var _ Provider = (*SkillProvider)(nil)

// SkillFile is the file that defines a skill inside its directory.
const SkillFile = files.SkillFileName

// scriptsDir holds optional executables named after the skill's tools.
const scriptsDir = "scripts"

// maxScriptOutput caps how much of a script's stdout is kept.
const maxScriptOutput = 4 << 20

// SkillProvider exposes the tools declared in a SKILL.md file.
//
// A tool whose executable exists at scripts/<tool> is run in the sandbox with the JSON arguments on stdin;
// its stdout becomes the text content of the result. Other tools return a description of the call.
type SkillProvider struct {
	logger  hclog.Logger
	name    string
	dir     string
	meta    SkillMetadata
	tools   []Tool
	sandbox sandbox.Sandbox
	timeout time.Duration
}

// NewSkillProvider parses dir/SKILL.md. Scripts are spawned with sb.
func NewSkillProvider(logger hclog.Logger, name string, dir string, sb sandbox.Sandbox) (*SkillProvider, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if name == "" {
		return nil, fmt.Errorf("skill name cannot be empty")
	}
	if sb == nil {
		return nil, fmt.Errorf("sandbox cannot be nil")
	}

	path := filepath.Join(dir, SkillFile)
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Config("%s not found at %s", SkillFile, path)
		}
		return nil, errors.Wrap(errors.KindConfig, err, "reading %s", path)
	}

	meta, tools, err := ParseSkill(name, content)
	if err != nil {
		return nil, errors.Wrap(errors.KindConfig, err, "skill '%s'", name)
	}

	return &SkillProvider{
		logger:  logger.Named("skill").Named(name),
		name:    name,
		dir:     dir,
		meta:    meta,
		tools:   tools,
		sandbox: sb,
		timeout: 30 * time.Second,
	}, nil
}

// Name implements Provider.
func (p *SkillProvider) Name() string {
	return p.name
}

// Type implements Provider.
func (p *SkillProvider) Type() Type {
	return TypeSkill
}

// Metadata returns the front matter of the skill file.
func (p *SkillProvider) Metadata() SkillMetadata {
	return p.meta
}

// IsAvailable reports whether the skill file still exists.
func (p *SkillProvider) IsAvailable(context.Context) bool {
	_, err := os.Stat(filepath.Join(p.dir, SkillFile))
	return err == nil
}

// ListTools returns the parsed tools.
func (p *SkillProvider) ListTools(context.Context) ([]Tool, error) {
	return slices.Clone(p.tools), nil
}

// CallTool runs the tool's script if it has one.
func (p *SkillProvider) CallTool(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	tool := stripPrefix(p.name, name)
	if !slices.ContainsFunc(p.tools, func(t Tool) bool { return t.DisplayName() == tool }) {
		return ErrorResult(fmt.Sprintf("Tool '%s' not found in skill", tool)), nil
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	script := filepath.Join(p.dir, scriptsDir, tool)
	if info, err := os.Stat(script); err != nil || info.IsDir() || info.Mode()&0o111 == 0 {
		data, err := json.Marshal(map[string]any{
			"status":    "skill_called",
			"skill":     p.name,
			"tool":      tool,
			"arguments": args,
		})
		if err != nil {
			return Result{}, errors.Wrap(errors.KindSerialization, err, "skill result")
		}
		return Result{Success: true, Data: data}, nil
	}

	return p.runScript(ctx, tool, script, args)
}

func (p *SkillProvider) runScript(ctx context.Context, tool string, script string, args json.RawMessage) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	proc, err := p.sandbox.Spawn(ctx, sandbox.Command{
		Name: p.name,
		Path: script,
		Env:  map[string]string{"SKILL_NAME": p.name, "SKILL_TOOL": tool},
		Dir:  p.dir,
	})
	if err != nil {
		return Result{}, fmt.Errorf("starting script for '%s.%s': %w", p.name, tool, err)
	}

	go func() {
		_, _ = proc.Stdin.Write(args)
		_ = proc.Stdin.Close()
	}()

	var stdout, stderr bytes.Buffer
	outDone := make(chan struct{})
	go func() {
		_, _ = io.Copy(&stdout, io.LimitReader(proc.Stdout, maxScriptOutput))
		_, _ = io.Copy(io.Discard, proc.Stdout)
		close(outDone)
	}()
	errDone := make(chan struct{})
	go func() {
		_, _ = io.Copy(&stderr, io.LimitReader(proc.Stderr, maxScriptOutput))
		_, _ = io.Copy(io.Discard, proc.Stderr)
		close(errDone)
	}()

	select {
	case <-ctx.Done():
		_ = proc.Stop(time.Second)
		return Result{}, errors.Timeout(p.timeout.Milliseconds())
	case <-outDone:
	}
	<-errDone

	if err := proc.Wait(); err != nil {
		p.logger.Warn("Skill script failed", "tool", tool, "error", err, "stderr", stderr.String())
		msg := stderr.String()
		if msg == "" {
			msg = err.Error()
		}
		return ErrorResult(msg), nil
	}

	text := stdout.String()
	return Result{
		Success: true,
		Data:    mustJSON(map[string]any{"output": text}),
		Content: []any{map[string]any{"type": "text", "text": text}},
	}, nil
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
