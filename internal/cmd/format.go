package cmd

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/mozilla-ai/mcpshield/internal/cmd/output"
)

type OutputFormat string

type OutputFormats []OutputFormat

const (
	FormatJSON OutputFormat = "json"
	FormatYAML OutputFormat = "yaml"
	FormatText OutputFormat = "text"
)

func AllowedOutputFormats() OutputFormats {
	formats := []OutputFormat{
		FormatJSON,
		FormatText,
		FormatYAML,
	}

	slices.Sort(formats)

	return formats
}

// String implements fmt.Stringer for a collection of export formats,
// converting them to a comma separated string.
func (f *OutputFormats) String() string {
	efs := *f
	out := make([]string, len(efs))
	for i := range efs {
		out[i] = efs[i].String()
	}
	return strings.Join(out, ", ")
}

// String implements fmt.Stringer for an export format.
// This is also required by Cobra as part of implementing flag.Value.
func (f *OutputFormat) String() string {
	return strings.ToLower(string(*f))
}

// Set is used by Cobra to set the export format value from a string.
// This is also required by Cobra as part of implementing flag.Value.
func (f *OutputFormat) Set(v string) error {
	v = strings.ToLower(strings.TrimSpace(v))
	allowed := AllowedOutputFormats()

	for _, a := range allowed {
		if string(a) == v {
			*f = OutputFormat(v)
			return nil
		}
	}

	return fmt.Errorf("invalid format '%s', must be one of %v", v, allowed.String())
}

// Type is used by Cobra to get the 'type' of an export format for display purposes.
// This is also required by Cobra as part of implementing flag.Value.
func (f *OutputFormat) Type() string {
	return "format"
}

// NewOutputHandler returns the output.Handler for format.
// The printer is only used for FormatText.
func NewOutputHandler[T any](w io.Writer, format OutputFormat, printer output.Printer[T]) (output.Handler[T], error) {
	switch format {
	case FormatJSON, FormatYAML:
		h, err := output.NewDocumentHandler[T](w, output.Encoding(format), 2)
		if err != nil {
			return nil, err
		}
		return h, nil
	case FormatText:
		if printer == nil {
			return nil, fmt.Errorf("no text printer available")
		}
		return output.NewTextHandler[T](w, printer), nil
	default:
		allowed := AllowedOutputFormats()
		return nil, fmt.Errorf("invalid format '%s', must be one of %v", format, allowed.String())
	}
}
