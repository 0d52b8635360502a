package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Encoding is a machine readable serialization for command output.
type Encoding string

const (
	EncodingJSON Encoding = "json"
	EncodingYAML Encoding = "yaml"
)

// DocumentHandler writes each result, result list, or error as a single JSON or YAML document.
// Field names come from the json and yaml struct tags of T.
type DocumentHandler[T any] struct {
	out      io.Writer
	encoding Encoding
	indent   int
}

// NewDocumentHandler returns a handler writing documents in the given encoding.
// indent is the number of spaces per nesting level; JSON with an indent of 0 is compact.
func NewDocumentHandler[T any](w io.Writer, encoding Encoding, indent int) (*DocumentHandler[T], error) {
	switch encoding {
	case EncodingJSON, EncodingYAML:
	default:
		return nil, fmt.Errorf("unsupported document encoding '%s'", encoding)
	}

	if indent < 0 {
		return nil, fmt.Errorf("indent must not be negative, got %d", indent)
	}

	return &DocumentHandler[T]{
		out:      w,
		encoding: encoding,
		indent:   indent,
	}, nil
}

func (h *DocumentHandler[T]) Writer() io.Writer {
	return h.out
}

// Encoding reports the serialization this handler writes.
func (h *DocumentHandler[T]) Encoding() Encoding {
	return h.encoding
}

func (h *DocumentHandler[T]) HandleResult(item T) error {
	return h.write(ResultPayload[T]{Result: item})
}

func (h *DocumentHandler[T]) HandleResults(items ...T) error {
	return h.write(ResultsPayload[T]{Results: items})
}

// HandleError writes the error message as a document so scripts can parse failures too.
func (h *DocumentHandler[T]) HandleError(err error) error {
	return h.write(ErrorPayload{Error: err.Error()})
}

func (h *DocumentHandler[T]) write(doc any) error {
	switch h.encoding {
	case EncodingYAML:
		enc := yaml.NewEncoder(h.out)
		enc.SetIndent(h.indent)
		if err := enc.Encode(doc); err != nil {
			_ = enc.Close()
			return fmt.Errorf("writing yaml output: %w", err)
		}
		// Close flushes the document.
		return enc.Close()
	default:
		enc := json.NewEncoder(h.out)
		enc.SetIndent("", strings.Repeat(" ", h.indent))
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("writing json output: %w", err)
		}
		return nil
	}
}
