package output

import "io"

// Handler renders the outcome of a CLI command, either what it produced or why it failed.
type Handler[T any] interface {
	Writer() io.Writer
	HandleResult(item T) error
	HandleResults(items ...T) error
	HandleError(err error) error
}

// WriteFunc writes a section of text output, such as a table heading or a summary line.
// It sees only how many items are printed, never the items themselves.
type WriteFunc[T any] func(w io.Writer, count int)

// Printer lays out items of type T for a terminal.
// TextHandler calls Header once, Item per element, then Footer.
type Printer[T any] interface {
	Header(w io.Writer, count int)
	SetHeader(fn WriteFunc[T])
	Item(w io.Writer, elem T) error
	Footer(w io.Writer, count int)
	SetFooter(fn WriteFunc[T])
}

// ResultsPayload is the document written for a list of results.
type ResultsPayload[T any] struct {
	Results []T `json:"results" yaml:"results"`
}

// ResultPayload is the document written for a single result.
type ResultPayload[T any] struct {
	Result T `json:"result" yaml:"result"`
}

// ErrorPayload is the document written when a command fails.
type ErrorPayload struct {
	Error string `json:"error" yaml:"error"`
}
