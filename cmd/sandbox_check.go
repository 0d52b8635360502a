package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mozilla-ai/mcpshield/internal/cmd"
	cmdopts "github.com/mozilla-ai/mcpshield/internal/cmd/options"
	"github.com/mozilla-ai/mcpshield/internal/cmd/output"
	"github.com/mozilla-ai/mcpshield/internal/sandbox"
)

// SandboxCheckCmd prints which isolation primitives the host offers.
type SandboxCheckCmd struct {
	*cmd.BaseCmd
	format cmd.OutputFormat
	detect func() sandbox.Report
}

func NewSandboxCheckCmd(baseCmd *cmd.BaseCmd, _ ...cmdopts.CmdOption) (*cobra.Command, error) {
	return newSandboxCheckCmd(baseCmd, sandbox.Detect), nil
}

func newSandboxCheckCmd(baseCmd *cmd.BaseCmd, detect func() sandbox.Report) *cobra.Command {
	c := &SandboxCheckCmd{
		BaseCmd: baseCmd,
		format:  cmd.FormatText,
		detect:  detect,
	}

	cobraCommand := &cobra.Command{
		Use:   "sandbox-check",
		Short: "Reports the sandboxing support available on this host",
		Long: "Inspects the host for the isolation primitives used to sandbox MCP servers " +
			"(seccomp, Landlock and namespaces on Linux, Seatbelt on macOS, job objects and AppContainer on Windows)",
		Args: cobra.NoArgs,
		RunE: c.run,
	}

	allowed := cmd.AllowedOutputFormats()
	cobraCommand.Flags().Var(
		&c.format,
		"format",
		fmt.Sprintf("Specify the output format (one of: %s)", allowed.String()),
	)

	return cobraCommand
}

func (c *SandboxCheckCmd) run(cobraCmd *cobra.Command, _ []string) error {
	handler, err := cmd.NewOutputHandler[sandbox.Report](cobraCmd.OutOrStdout(), c.format, &reportPrinter{})
	if err != nil {
		return err
	}

	return handler.HandleResult(c.detect())
}

// reportPrinter renders a sandbox.Report as aligned text.
type reportPrinter struct {
	header output.WriteFunc[sandbox.Report]
	footer output.WriteFunc[sandbox.Report]
}

func (p *reportPrinter) Header(w io.Writer, count int) {
	if p.header != nil {
		p.header(w, count)
	}
}

func (p *reportPrinter) SetHeader(fn output.WriteFunc[sandbox.Report]) {
	p.header = fn
}

func (p *reportPrinter) Footer(w io.Writer, count int) {
	if p.footer != nil {
		p.footer(w, count)
	}
}

func (p *reportPrinter) SetFooter(fn output.WriteFunc[sandbox.Report]) {
	p.footer = fn
}

func (p *reportPrinter) Item(w io.Writer, r sandbox.Report) error {
	var b strings.Builder

	support := "none"
	switch {
	case r.FullySupported():
		support = "full"
	case r.PartiallySupported():
		support = "partial"
	}

	fmt.Fprintf(&b, "Platform:\t%s\n", r.Platform)
	if r.Backend != "" {
		fmt.Fprintf(&b, "Backend:\t%s\n", r.Backend)
	}
	fmt.Fprintf(&b, "Support:\t%s\n", support)

	switch r.Platform {
	case "linux":
		fmt.Fprintf(&b, "  seccomp:\t%s\n", mark(r.Seccomp))
		if r.Landlock {
			fmt.Fprintf(&b, "  landlock:\t%s (ABI %d)\n", mark(true), r.LandlockABI)
		} else {
			fmt.Fprintf(&b, "  landlock:\t%s\n", mark(false))
		}
		fmt.Fprintf(&b, "  namespaces:\t%s", r.Namespaces.Level)
		if len(r.Namespaces.Supported) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(r.Namespaces.Supported, ", "))
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "  user ns:\t%s\n", mark(r.UserNS))
		fmt.Fprintf(&b, "  cgroups v2:\t%s\n", mark(r.Cgroups))
	case "darwin":
		fmt.Fprintf(&b, "  seatbelt:\t%s\n", mark(r.Seatbelt))
	case "windows":
		fmt.Fprintf(&b, "  job objects:\t%s\n", mark(r.JobObjects))
		fmt.Fprintf(&b, "  appcontainer:\t%s\n", mark(r.AppContainer))
	}

	for _, note := range r.Notes {
		fmt.Fprintf(&b, "Note: %s\n", note)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func mark(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}
